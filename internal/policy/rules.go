package policy

import "fmt"

// Rule is one hard policy rule. Rules are evaluated in order; the first
// matching Deny rule short-circuits the whole assessment. Floor rules do not
// short-circuit: the highest matching floor is applied beneath the external
// model's score, so the model can raise risk above the floor but never lower
// it below.
type Rule struct {
	Name   string
	Match  func(r *ActionRequest) bool
	Deny   bool
	Floor  int
	Reason string
}

// trustedVendors is the payment allowlist. Large invoices to a vendor off
// this list always escalate regardless of what the model thinks.
var trustedVendors = map[string]bool{
	"Acme Supplies":  true,
	"Globex Hosting": true,
	"Initech Cloud":  true,
}

// highValueInvoice is the threshold above which a payment is never
// auto-approved on the model's say-so alone.
const highValueInvoice = 5000

// bulkExportRecords is the record count above which an export is treated as
// bulk exfiltration risk.
const bulkExportRecords = 10

// DefaultRules returns the standard hard-rule table, in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "destructive_schema_change",
			Match:  func(r *ActionRequest) bool { return r.ActionType == ActionDropTable },
			Deny:   true,
			Reason: "destructive database operations are never permitted autonomously",
		},
		{
			Name: "untrusted_high_value_payment",
			Match: func(r *ActionRequest) bool {
				return r.ActionType == ActionPayInvoice &&
					r.Number("amount") > highValueInvoice &&
					!trustedVendors[r.String("vendor")]
			},
			Floor:  95,
			Reason: fmt.Sprintf("invoice exceeds %d to an unrecognized vendor", highValueInvoice),
		},
		{
			Name: "trusted_high_value_payment",
			Match: func(r *ActionRequest) bool {
				return r.ActionType == ActionPayInvoice &&
					r.Number("amount") > highValueInvoice
			},
			Floor:  60,
			Reason: fmt.Sprintf("invoice exceeds %d", highValueInvoice),
		},
		{
			Name: "production_user_deletion",
			Match: func(r *ActionRequest) bool {
				return r.ActionType == ActionDeleteUser && r.String("environment") == "production"
			},
			Floor:  90,
			Reason: "deleting a user in production is irreversible",
		},
		{
			Name:   "user_deletion",
			Match:  func(r *ActionRequest) bool { return r.ActionType == ActionDeleteUser },
			Floor:  70,
			Reason: "user deletion always needs a human decision",
		},
		{
			Name: "bulk_pii_export",
			Match: func(r *ActionRequest) bool {
				return r.ActionType == ActionExportCSV &&
					(r.Bool("containsPII") || r.Number("recordCount") > bulkExportRecords)
			},
			Floor:  95,
			Reason: "bulk or PII-bearing export",
		},
		{
			Name: "sensitive_record_access",
			Match: func(r *ActionRequest) bool {
				return (r.ActionType == ActionShareRecord || r.ActionType == ActionQuerySSN) &&
					r.Bool("containsPII")
			},
			Floor:  90,
			Reason: "touches sensitive personal data",
		},
	}
}
