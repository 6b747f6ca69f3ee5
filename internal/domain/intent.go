package domain

// Intent is the classified purpose of an inbound message.
type Intent string

const (
	IntentGreeting           Intent = "greeting"
	IntentHelp               Intent = "help"
	IntentRegister           Intent = "register"
	IntentLogin              Intent = "login"
	IntentLogout             Intent = "logout"
	IntentSearchProducts     Intent = "search_products"
	IntentAddToCart          Intent = "add_to_cart"
	IntentPlaceOrder         Intent = "place_order"
	IntentTrackOrder         Intent = "track_order"
	IntentSearchDoctors      Intent = "search_doctors"
	IntentBookAppointment    Intent = "book_appointment"
	IntentPayment            Intent = "payment"
	IntentSupport            Intent = "support"
	IntentDiagnosticTests    Intent = "diagnostic_tests"
	IntentHealthcareProducts Intent = "healthcare_products"
	IntentPasswordReset      Intent = "password_reset"
	IntentPrescriptionUpload Intent = "prescription_upload"
	IntentUnknown            Intent = "unknown"
)

// Resolver source tags. The source identifies which stage produced the result.
const (
	SourceNumeric  = "numeric"
	SourceMatcher  = "matcher"
	SourceProvider = "provider"
	SourceError    = "error"
)

// IntentResult is the output of intent resolution for one message.
type IntentResult struct {
	Intent          Intent
	Parameters      map[string]string
	FulfillmentText string
	Confidence      float64
	Source          string
}

// Param returns the named parameter, or "" if absent.
func (r IntentResult) Param(key string) string {
	if r.Parameters == nil {
		return ""
	}
	return r.Parameters[key]
}
