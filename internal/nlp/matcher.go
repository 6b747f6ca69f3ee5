package nlp

import (
	"context"
	"regexp"
	"strings"

	"github.com/drugsng/whatsapp-bot/internal/domain"
)

// Numeric shortcuts shown in the help menu. "3" always means track_order
// regardless of conversation state.
var featureCommands = map[string]domain.Intent{
	"1": domain.IntentSearchProducts,
	"2": domain.IntentSearchDoctors,
	"3": domain.IntentTrackOrder,
	"4": domain.IntentBookAppointment,
	"5": domain.IntentPlaceOrder,
	"6": domain.IntentSupport,
	"7": domain.IntentDiagnosticTests,
	"8": domain.IntentHealthcareProducts,
}

// HelpMessage is the canned menu sent for the help intent.
const HelpMessage = `🏥 *Drugs.ng WhatsApp Bot - Available Services:*

1️⃣ *Search Medicines* - Type "1" or "find paracetamol"
2️⃣ *Find Doctors* - Type "2" or "find a cardiologist"
3️⃣ *Track Orders* - Type "3" or "track 12345"
4️⃣ *Book Appointment* - Type "4" or "book a doctor"
5️⃣ *Place Order* - Type "5" or "order medicines"
6️⃣ *Customer Support* - Type "6" or "connect me to support"
7️⃣ *Book Diagnostic Tests* - Type "7" or "book a blood test"
8️⃣ *Healthcare Products* - Type "8" or "browse health products"

Simply reply with a number (1-8) or describe what you need!`

var (
	numericRe  = regexp.MustCompile(`^\d+$`)
	helpRe     = regexp.MustCompile(`^(help|menu|what can you do|capabilities|features|\?)$`)
	logoutRe   = regexp.MustCompile(`^(logout|exit|bye|goodbye|sign out|log out)$`)
	greetingRe = regexp.MustCompile(`^(hello|hi|hey|greetings|good morning|good afternoon|good evening|start|begin)$`)

	registerRe      = regexp.MustCompile(`^(register|signup|sign up|create account|new account)`)
	loginRe         = regexp.MustCompile(`^(login|signin|sign in|log in|authenticate)`)
	productVerbRe   = regexp.MustCompile(`^(search|find|show|look for|do you have|give me|send me).*?(medicine|drug|product|medication|pill|tablet)`)
	productNounRe   = regexp.MustCompile(`^(medicine|drug|product|medication|pill|tablet)`)
	addToCartRe     = regexp.MustCompile(`^(add|put|move).*?(cart|basket)`)
	placeOrderRe    = regexp.MustCompile(`^(order|checkout|place order|buy|purchase|proceed to|complete|confirm order)`)
	trackOrderRe    = regexp.MustCompile(`^(track|where is|status of|check|trace|update on).*?(order|delivery|package)`)
	doctorVerbRe    = regexp.MustCompile(`^(find|search|need|looking for|want to see|book|appointment with).*?(doctor|physician|specialist|cardiologist|pediatrician|dermatologist|gynecologist|neurologist|orthopedic)`)
	doctorNounRe    = regexp.MustCompile(`^(doctor|physician|specialist)`)
	appointmentRe   = regexp.MustCompile(`^(book|schedule|make|arrange|reserve).*?(appointment|consultation|visit)`)
	paymentRe       = regexp.MustCompile(`^(pay|payment|process payment|pay for|settle)`)
	supportRe       = regexp.MustCompile(`^(support|agent|help me|speak to|chat with|contact|complaint|issue|problem|help|talk to agent)`)
	diagnosticRe    = regexp.MustCompile(`^(diagnostic|test|blood test|lab test|screening|check up|medical test)`)
	healthcareRe    = regexp.MustCompile(`^(healthcare|health care|products|browse|equipment|devices|supplies)`)
	passwordResetRe = regexp.MustCompile(`^(forgot|reset|change|password)`)
	prescriptionRe  = regexp.MustCompile(`^(upload|prescription|script|rx|medicine prescription)`)

	emailRe   = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	numbersRe = regexp.MustCompile(`\d+`)
	dateRe    = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{4})`)
	timeRe    = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?`)

	registerPrefixRe = regexp.MustCompile(`(?i)^(register|signup|sign up|create account|new account)\s+`)
	loginPrefixRe    = regexp.MustCompile(`(?i)^(login|signin|sign in|log in|authenticate)\s+`)
	articlePrefixRe  = regexp.MustCompile(`(?i)^(for|a|an|the)\s+`)
	locationRe       = regexp.MustCompile(`(?i)in\s+([a-z\s]+?)(?:\s+on|\s+at|$)`)
)

// Broad single-keyword fallback, tried after all priority patterns.
var fallbackKeywords = []struct {
	re     *regexp.Regexp
	intent domain.Intent
}{
	{regexp.MustCompile(`medicine|drug|pharmacy|health|medicinal`), domain.IntentSearchProducts},
	{regexp.MustCompile(`doctor|physician|clinic|medical|health professional`), domain.IntentSearchDoctors},
	{regexp.MustCompile(`appointment|consultation|visit|schedule`), domain.IntentBookAppointment},
	{regexp.MustCompile(`order|purchase|buy|checkout|cart`), domain.IntentPlaceOrder},
	{regexp.MustCompile(`deliver|shipping|progress|arrive|when|where`), domain.IntentTrackOrder},
}

var specialties = []string{
	"cardiologist", "pediatrician", "dermatologist", "gynecologist",
	"general practitioner", "neurologist", "orthopedic", "ophthalmologist",
	"pulmonologist", "gastroenterologist", "urologist", "psychiatrist",
}

var diagnosticTests = []string{
	"blood test", "covid test", "malaria test", "typhoid test", "thyroid test",
	"glucose test", "lipid profile", "urinalysis", "full blood count",
}

var healthcareCategories = []string{
	"first aid", "medical devices", "thermometer", "oximeter", "glucose meter",
	"bandage", "gauze", "cream", "gel", "kit",
}

// Matcher is the deterministic keyword/pattern intent classifier. Pattern
// order is part of the observable contract: overlapping patterns are tried
// in the declared priority order and the first match wins.
type Matcher struct{}

// NewMatcher returns the deterministic matcher.
func NewMatcher() *Matcher {
	return &Matcher{}
}

// Resolve classifies text with the ordered pattern passes.
//
//nolint:gocognit // The fixed stage order is the contract; splitting it would hide it.
func (m *Matcher) Resolve(_ context.Context, text string) domain.IntentResult {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return result(domain.IntentUnknown, nil, "Invalid message format")
	}

	// Stage 1: numeric shortcuts bypass everything else.
	if numericRe.MatchString(lower) {
		if intent, ok := featureCommands[lower]; ok {
			return domain.IntentResult{
				Intent:     intent,
				Parameters: map[string]string{},
				Confidence: 1,
				Source:     domain.SourceNumeric,
			}
		}
	}

	// Stage 2: exact phrases.
	switch {
	case helpRe.MatchString(lower):
		return result(domain.IntentHelp, nil, HelpMessage)
	case logoutRe.MatchString(lower):
		return result(domain.IntentLogout, nil, "")
	case greetingRe.MatchString(lower):
		return result(domain.IntentGreeting, nil, "")
	}

	// Stage 3: keyword intents in fixed priority order, with per-intent
	// parameter extraction.
	switch {
	case registerRe.MatchString(lower):
		return result(domain.IntentRegister, extractRegistration(text), "")
	case loginRe.MatchString(lower):
		return result(domain.IntentLogin, extractLogin(text), "")
	case productVerbRe.MatchString(lower) || productNounRe.MatchString(lower):
		return result(domain.IntentSearchProducts, extractProduct(text), "")
	case addToCartRe.MatchString(lower):
		return result(domain.IntentAddToCart, extractIndexQuantity(text), "")
	case placeOrderRe.MatchString(lower):
		return result(domain.IntentPlaceOrder, extractOrder(text), "")
	case trackOrderRe.MatchString(lower):
		return result(domain.IntentTrackOrder, extractOrderID(text), "")
	case doctorVerbRe.MatchString(lower) || doctorNounRe.MatchString(lower):
		return result(domain.IntentSearchDoctors, extractDoctor(lower), "")
	case appointmentRe.MatchString(lower):
		return result(domain.IntentBookAppointment, extractAppointment(text), "")
	case paymentRe.MatchString(lower):
		return result(domain.IntentPayment, extractPayment(text), "")
	case supportRe.MatchString(lower):
		return result(domain.IntentSupport, map[string]string{}, "Connecting you to our support team...")
	case diagnosticRe.MatchString(lower):
		return result(domain.IntentDiagnosticTests, extractVocabulary(lower, "test_type", diagnosticTests), "")
	case healthcareRe.MatchString(lower):
		return result(domain.IntentHealthcareProducts, extractVocabulary(lower, "category", healthcareCategories), "")
	case passwordResetRe.MatchString(lower):
		return result(domain.IntentPasswordReset, map[string]string{}, "")
	case prescriptionRe.MatchString(lower):
		return result(domain.IntentPrescriptionUpload, map[string]string{}, "")
	}

	// Stage 4: broad single-keyword fallback before declaring unknown.
	for _, kw := range fallbackKeywords {
		if kw.re.MatchString(lower) {
			return result(kw.intent, map[string]string{}, "")
		}
	}

	return result(domain.IntentUnknown, nil, "I didn't understand that. Type 'help' to see what I can do.")
}

func result(intent domain.Intent, params map[string]string, text string) domain.IntentResult {
	if params == nil {
		params = map[string]string{}
	}
	return domain.IntentResult{
		Intent:          intent,
		Parameters:      params,
		FulfillmentText: text,
		Confidence:      0.9,
		Source:          domain.SourceMatcher,
	}
}

// extractRegistration splits "register <name...> <email> <password...>"
// positionally around the email token.
func extractRegistration(text string) map[string]string {
	params := map[string]string{}
	if email := emailRe.FindString(text); email != "" {
		params["email"] = email
	}

	rest := strings.TrimSpace(registerPrefixRe.ReplaceAllString(text, ""))
	parts := strings.Fields(rest)

	emailIndex := -1
	for i, p := range parts {
		if strings.Contains(p, "@") {
			emailIndex = i
			break
		}
	}
	if emailIndex > 0 {
		params["name"] = strings.Join(parts[:emailIndex], " ")
	}
	if emailIndex != -1 {
		params["email"] = parts[emailIndex]
		if emailIndex+1 < len(parts) {
			params["password"] = strings.Join(parts[emailIndex+1:], " ")
		}
	}
	return params
}

func extractLogin(text string) map[string]string {
	params := map[string]string{}
	if email := emailRe.FindString(text); email != "" {
		params["email"] = email
	}

	rest := strings.TrimSpace(loginPrefixRe.ReplaceAllString(text, ""))
	parts := strings.Fields(rest)
	for i, p := range parts {
		if strings.Contains(p, "@") {
			params["email"] = p
			if i+1 < len(parts) {
				params["password"] = strings.Join(parts[i+1:], " ")
			}
			break
		}
	}
	return params
}

func extractProduct(text string) map[string]string {
	params := map[string]string{}
	lower := strings.ToLower(text)

	searchKeywords := []string{"search", "find", "show", "look for", "do you have", "give me", "send me"}
	productKeywords := []string{"medicine", "drug", "product", "medication", "pill", "tablet"}

	name := text
	for _, kw := range searchKeywords {
		if idx := strings.Index(lower, kw); idx != -1 {
			name = strings.TrimSpace(text[idx+len(kw):])
			break
		}
	}

	name = strings.TrimSpace(articlePrefixRe.ReplaceAllString(name, ""))
	for _, kw := range productKeywords {
		re := regexp.MustCompile(`(?i)\b` + kw + `\b`)
		name = strings.TrimSpace(re.ReplaceAllString(name, ""))
	}

	if name != "" {
		params["product"] = name
	}
	return params
}

// extractIndexQuantity pulls "add <index> <quantity>" from the first one or
// two bare integers; quantity defaults to 1.
func extractIndexQuantity(text string) map[string]string {
	params := map[string]string{}
	numbers := numbersRe.FindAllString(text, -1)
	if len(numbers) >= 1 {
		params["product_index"] = numbers[0]
		if len(numbers) >= 2 {
			params["quantity"] = numbers[1]
		} else {
			params["quantity"] = "1"
		}
	}
	return params
}

func extractOrder(text string) map[string]string {
	params := map[string]string{}
	lower := strings.ToLower(text)

	switch {
	case strings.Contains(lower, "flutterwave"):
		params["payment_method"] = "Flutterwave"
	case strings.Contains(lower, "paystack"):
		params["payment_method"] = "Paystack"
	case strings.Contains(lower, "cash"):
		params["payment_method"] = "Cash on Delivery"
	}

	// The address is whatever follows the order verb, minus the payment
	// method token.
	rest := strings.TrimSpace(regexp.MustCompile(`(?i)^(order|checkout|place order|buy|purchase|proceed to|complete|confirm order)\s*`).ReplaceAllString(text, ""))
	for _, method := range []string{"flutterwave", "paystack", "cash on delivery", "cash"} {
		re := regexp.MustCompile(`(?i)\b` + method + `\b`)
		rest = strings.TrimSpace(re.ReplaceAllString(rest, ""))
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), ",")
	if rest != "" {
		params["address"] = rest
	}
	return params
}

func extractOrderID(text string) map[string]string {
	params := map[string]string{}
	if numbers := numbersRe.FindAllString(text, 1); len(numbers) > 0 {
		params["order_id"] = numbers[0]
	}
	return params
}

func extractDoctor(lower string) map[string]string {
	params := extractVocabulary(lower, "specialty", specialties)
	if m := locationRe.FindStringSubmatch(lower); m != nil {
		params["location"] = strings.TrimSpace(m[1])
	}
	return params
}

func extractAppointment(text string) map[string]string {
	params := map[string]string{}
	if numbers := numbersRe.FindAllString(dateRe.ReplaceAllString(timeRe.ReplaceAllString(text, ""), ""), 1); len(numbers) > 0 {
		params["doctor_index"] = numbers[0]
	}
	if m := dateRe.FindString(text); m != "" {
		params["date"] = m
	}
	if m := timeRe.FindString(text); m != "" {
		params["time"] = strings.TrimSpace(m)
	}
	return params
}

func extractPayment(text string) map[string]string {
	params := extractOrderID(text)
	lower := strings.ToLower(text)
	if strings.Contains(lower, "flutterwave") {
		params["provider"] = "Flutterwave"
	} else if strings.Contains(lower, "paystack") {
		params["provider"] = "Paystack"
	}
	return params
}

func extractVocabulary(lower, key string, vocabulary []string) map[string]string {
	params := map[string]string{}
	for _, entry := range vocabulary {
		if strings.Contains(lower, entry) {
			params[key] = entry
			break
		}
	}
	return params
}
