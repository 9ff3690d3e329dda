package httpapi

import (
	"net/http"

	"tenantscope.io/internal/tenant"
)

type fixResult struct {
	CustomerID string `json:"customerId"`
	Action     string `json:"action"`
	Detail     string `json:"detail,omitempty"`
}

type fixResponse struct {
	Checked int         `json:"checked"`
	Fixed   int         `json:"fixed"`
	Results []fixResult `json:"results"`
}

// handleFixAppRegistrations scans every customer and repairs corrupted or
// missing app registrations. Unusable records are replaced with an explicit
// needs-setup placeholder so assessments fail with guidance instead of
// authenticating with garbage.
func (a *API) handleFixAppRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	// Deleted customers are included: their records persist and a later
	// restore must not resurrect a corrupted registration.
	customers, err := a.store.ListCustomers(r.Context(), true)
	if err != nil {
		handleStoreError(w, r, err)
		return
	}

	resp := fixResponse{Results: make([]fixResult, 0, len(customers))}
	for _, customer := range customers {
		resp.Checked++
		reg, ok := tenant.ValidateAppRegistration(customer.AppRegistration)

		switch {
		case !ok:
			detail := "registration missing"
			if customer.AppRegistration != nil {
				detail = "registration corrupted"
			}
			customer.AppRegistration = placeholderRegistration(customer.ID)
			if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
				handleStoreError(w, r, err)
				return
			}
			resp.Fixed++
			resp.Results = append(resp.Results, fixResult{
				CustomerID: customer.ID,
				Action:     "reset",
				Detail:     detail,
			})

		case !reg.Usable():
			if reg.NeedsSetup && !reg.IsReal {
				resp.Results = append(resp.Results, fixResult{CustomerID: customer.ID, Action: "none"})
				continue
			}
			reg.NeedsSetup = true
			reg.IsReal = false
			customer.AppRegistration = reg
			if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
				handleStoreError(w, r, err)
				return
			}
			resp.Fixed++
			resp.Results = append(resp.Results, fixResult{
				CustomerID: customer.ID,
				Action:     "flagged",
				Detail:     "placeholder client id marked needs-setup",
			})

		default:
			if reg.NeedsSetup {
				reg.NeedsSetup = false
				customer.AppRegistration = reg
				if err := a.store.UpdateCustomer(r.Context(), customer); err != nil {
					handleStoreError(w, r, err)
					return
				}
				resp.Fixed++
				resp.Results = append(resp.Results, fixResult{
					CustomerID: customer.ID,
					Action:     "cleared",
					Detail:     "usable registration no longer flagged for setup",
				})
				continue
			}
			resp.Results = append(resp.Results, fixResult{CustomerID: customer.ID, Action: "none"})
		}
	}

	a.audit(r.Context(), "maintenance.fix_app_registrations", map[string]any{
		"checked": resp.Checked,
		"fixed":   resp.Fixed,
	})
	writeJSON(w, http.StatusOK, resp)
}

func placeholderRegistration(customerID string) *tenant.AppRegistration {
	return &tenant.AppRegistration{
		ClientID:      tenant.PlaceholderPrefix + customerID,
		NeedsSetup:    true,
		ConsentStatus: tenant.ConsentPending,
	}
}
