package entra

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// GraphResourceAppID is the well-known application id of Microsoft Graph.
const GraphResourceAppID = "00000003-0000-0000-c000-000000000000"

// graphAppRoles maps human-readable Graph application permission names to
// their well-known role GUIDs, as required by the application manifest.
var graphAppRoles = map[string]string{
	"User.Read.All":                     "df021288-bdef-4463-88db-98f22de89214",
	"Directory.Read.All":                "7ab1d382-f21e-4acd-a863-ba3e13f7da61",
	"Organization.Read.All":             "498476ce-e0fe-48b0-b801-37ba7e2685c6",
	"SecurityEvents.Read.All":           "bf394140-e372-4bf9-a898-299cfc7564e5",
	"Policy.Read.All":                   "246dd0d5-5bd0-4def-940b-0421030a5b68",
	"Reports.Read.All":                  "230c1aed-a721-4c5d-9cb4-a90514e508ef",
	"UserAuthenticationMethod.Read.All": "38d9df27-64da-44fd-b7c5-a6fbac20248f",
	"RoleManagement.Read.Directory":     "483bed4a-2ad3-4361-a73b-c83ccdbdc53c",
}

// DefaultPermissions is the fixed read-only set requested for every customer
// app registration.
var DefaultPermissions = []string{
	"Directory.Read.All",
	"Organization.Read.All",
	"Policy.Read.All",
	"Reports.Read.All",
	"SecurityEvents.Read.All",
	"User.Read.All",
	"UserAuthenticationMethod.Read.All",
}

// PermissionIDs maps permission names to Graph role GUIDs. Unknown names are
// rejected so a typo never silently drops a permission from the manifest.
func PermissionIDs(names []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		raw, ok := graphAppRoles[name]
		if !ok {
			return nil, fmt.Errorf("unknown Graph permission %q", name)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("permission %s has malformed role id: %w", name, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// KnownPermissions lists the supported permission names, sorted.
func KnownPermissions() []string {
	out := make([]string, 0, len(graphAppRoles))
	for name := range graphAppRoles {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
