package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/drugsng"
	"github.com/drugsng/whatsapp-bot/internal/otp"
	"github.com/drugsng/whatsapp-bot/internal/payment"
)

const maxCachedResults = 5

func (d *Dispatcher) handle(ctx context.Context, session *domain.Session, result domain.IntentResult, text string) string {
	switch result.Intent {
	case domain.IntentGreeting:
		return d.handleGreeting(session, result)
	case domain.IntentHelp:
		return prompt(result)
	case domain.IntentRegister:
		return d.handleRegister(ctx, session, result)
	case domain.IntentLogin:
		return d.handleLogin(ctx, session, result)
	case domain.IntentLogout:
		return d.handleLogout(session)
	case domain.IntentSearchProducts:
		return d.handleSearchProducts(ctx, session, result)
	case domain.IntentAddToCart:
		return d.handleAddToCart(ctx, session, result)
	case domain.IntentPlaceOrder:
		return d.handlePlaceOrder(ctx, session, result)
	case domain.IntentTrackOrder:
		return d.handleTrackOrder(ctx, result)
	case domain.IntentSearchDoctors:
		return d.handleSearchDoctors(ctx, session, result)
	case domain.IntentBookAppointment:
		return d.handleBookAppointment(ctx, session, result)
	case domain.IntentPayment:
		return d.handlePayment(ctx, session, result)
	case domain.IntentSupport:
		return d.handleSupport(ctx, session)
	case domain.IntentDiagnosticTests:
		return d.handleDiagnosticTests(ctx, result)
	case domain.IntentHealthcareProducts:
		return d.handleHealthcareProducts(ctx, result)
	case domain.IntentPasswordReset:
		return d.handlePasswordReset(ctx, session, text)
	case domain.IntentPrescriptionUpload:
		return prompt(result)
	default:
		return prompt(result)
	}
}

func (d *Dispatcher) handleGreeting(session *domain.Session, result domain.IntentResult) string {
	if result.FulfillmentText != "" {
		return result.FulfillmentText
	}
	if session.IsLoggedIn() {
		return returningUserGreeting
	}
	return newUserGreeting
}

// handleRegister collects the registration draft and emails a verification
// code. The account is only created once the code comes back, in
// completeRegistration.
func (d *Dispatcher) handleRegister(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	name := result.Param("name")
	email := result.Param("email")
	password := result.Param("password")
	if name == "" || email == "" || password == "" {
		session.State = domain.StateRegistering
		return prompt(result)
	}

	code, err := d.otps.Issue(ctx, email, domain.OTPRegistration)
	if err != nil {
		slog.Error("issue registration otp", "sender", session.SenderID, "error", err)
		return genericApology
	}
	if err := d.mail.SendOTP(ctx, email, name, code); err != nil {
		slog.Error("send registration otp", "sender", session.SenderID, "error", err)
		return "I couldn't send a verification email to " + email + ". Please check the address and try again."
	}

	session.State = domain.StateRegistering
	session.Data.RegistrationDraft = &domain.RegistrationDraft{Name: name, Email: email, Password: password}
	session.Data.OTPPending = true
	return "📧 I've sent a 4-digit verification code to " + email + ".\n\nReply with the code to complete your registration."
}

// completeRegistration consumes a pending verification code and creates the
// backend account on success.
func (d *Dispatcher) completeRegistration(ctx context.Context, session *domain.Session, code string) string {
	draft := session.Data.RegistrationDraft
	if draft == nil {
		session.Data.OTPPending = false
		return "I've lost your registration details. Please register again.\n\nExample: register John Doe john@example.com mypassword"
	}

	outcome, err := d.otps.Verify(ctx, draft.Email, code, domain.OTPRegistration)
	if err != nil {
		slog.Error("verify registration otp", "sender", session.SenderID, "error", err)
		return genericApology
	}

	switch outcome {
	case otp.VerifyMismatch:
		return "❌ That code doesn't match. Please check your email and try again."
	case otp.VerifyExpired, otp.VerifyNone:
		session.Data.RegistrationDraft = nil
		session.Data.OTPPending = false
		return "⏰ That code has expired. Please register again to get a new one.\n\nExample: register John Doe john@example.com mypassword"
	}

	auth, err := d.backend.RegisterUser(ctx, drugsng.UserData{
		Name:        draft.Name,
		Email:       draft.Email,
		Password:    draft.Password,
		PhoneNumber: session.SenderID,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			session.Data.RegistrationDraft = nil
			session.Data.OTPPending = false
			session.State = domain.StateNew
			return "❌ Registration failed: " + verr.Reason + "\n\nPlease register again with corrected details."
		}
		slog.Error("register user", "sender", session.SenderID, "error", err)
		return genericApology
	}

	session.State = domain.StateLoggedIn
	session.Data = domain.SessionData{
		UserID: auth.UserID,
		Token:  auth.Token,
		Email:  auth.Email,
	}
	d.relay.NotifyRole(ctx, domain.RoleGeneral, session.SenderID, "New registration",
		fmt.Sprintf("%s (%s) just registered via WhatsApp.", draft.Name, draft.Email))
	return fmt.Sprintf("🎉 Welcome to Drugs.ng, %s! Your account is ready.\n\nType 'help' to see everything I can do.", auth.Name)
}

func (d *Dispatcher) handleLogin(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	email := result.Param("email")
	password := result.Param("password")
	if email == "" || password == "" {
		session.State = domain.StateLoggingIn
		return prompt(result)
	}

	auth, err := d.backend.LoginUser(ctx, drugsng.Credentials{Email: email, Password: password})
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			return "❌ Login failed: " + verr.Reason
		case errors.Is(err, domain.ErrAuthRequired), errors.Is(err, domain.ErrNotFound):
			return "❌ Invalid email or password. Please try again.\n\nForgot your password? Type 'reset " + email + "' to get a reset code."
		}
		slog.Error("login user", "sender", session.SenderID, "error", err)
		return genericApology
	}

	session.State = domain.StateLoggedIn
	session.Data = domain.SessionData{
		UserID: auth.UserID,
		Token:  auth.Token,
		Email:  auth.Email,
	}
	name := auth.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("✅ Welcome back, %s! You're logged in.\n\nType 'help' to see what I can do for you.", name)
}

func (d *Dispatcher) handleLogout(session *domain.Session) string {
	session.ClearAuth()
	return logoutMessage
}

func (d *Dispatcher) handleSearchProducts(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	query := result.Param("product")
	if query == "" {
		query = result.Param("query")
	}
	if query == "" {
		return prompt(result)
	}

	products, err := d.backend.SearchProducts(ctx, query)
	if err != nil {
		slog.Error("search products", "sender", session.SenderID, "query", query, "error", err)
		return "I couldn't search right now. Please try again in a moment."
	}
	if len(products) == 0 {
		return fmt.Sprintf("I couldn't find any products matching %q. Try a different name or type 'help'.", query)
	}

	if len(products) > maxCachedResults {
		products = products[:maxCachedResults]
	}
	session.Data.SearchResults = products
	return formatProducts(query, products)
}

func (d *Dispatcher) handleAddToCart(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	if len(session.Data.SearchResults) == 0 {
		return "Search for a product first, then add it by number.\n\nExample: search paracetamol"
	}

	index, err := strconv.Atoi(result.Param("product_index"))
	if err != nil || index < 1 || index > len(session.Data.SearchResults) {
		return fmt.Sprintf("Please pick a product number between 1 and %d.", len(session.Data.SearchResults))
	}
	quantity, err := strconv.Atoi(result.Param("quantity"))
	if err != nil || quantity < 1 {
		quantity = 1
	}

	product := session.Data.SearchResults[index-1]
	if err := d.backend.AddToCart(ctx, session.Data.UserID, product.ID, quantity); err != nil {
		slog.Error("add to cart", "sender", session.SenderID, "product_id", product.ID, "error", err)
		return "I couldn't add that to your cart. Please try again."
	}
	return fmt.Sprintf("🛒 Added %d x %s to your cart (₦%.2f each).\n\nReady to checkout? Type 'order' with your delivery address.",
		quantity, product.Name, product.Price)
}

func (d *Dispatcher) handlePlaceOrder(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	address := result.Param("address")
	method := result.Param("payment_method")
	if address == "" || method == "" {
		return "To place your order I need a delivery address and payment method.\n\nExample: order to 12 Allen Avenue, Ikeja with flutterwave"
	}

	placed, err := d.backend.PlaceOrder(ctx, session.Data.UserID, drugsng.OrderData{
		Address:       address,
		PaymentMethod: method,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return "❌ I couldn't place the order: " + verr.Reason
		}
		slog.Error("place order", "sender", session.SenderID, "error", err)
		return "I couldn't place your order right now. Please try again."
	}

	order := &domain.Order{
		ID:              placed.OrderID,
		UserID:          session.Data.UserID,
		Status:          domain.OrderProcessing,
		PaymentStatus:   domain.PaymentPending,
		TotalAmount:     placed.TotalAmount,
		ShippingAddress: address,
		OrderDate:       time.Now(),
	}
	if err := d.repo.InsertOrder(ctx, order, session.SenderID, session.Data.Email); err != nil {
		slog.Error("record order", "sender", session.SenderID, "order_id", placed.OrderID, "error", err)
	}
	d.relay.NotifyRole(ctx, domain.RoleOrders, session.SenderID, "New order",
		fmt.Sprintf("Order #%d for ₦%.2f placed via WhatsApp.", placed.OrderID, placed.TotalAmount))

	reply := fmt.Sprintf("✅ Order #%d placed! Total: ₦%.2f\nDelivery to: %s\n",
		placed.OrderID, placed.TotalAmount, address)

	provider := providerFromMethod(method)
	if provider == "" {
		return reply + "\nYou've chosen to pay on delivery. We'll notify you when your order ships."
	}

	link, err := d.payments.CheckoutLink(ctx, provider, payment.Details{
		OrderID:     placed.OrderID,
		Amount:      placed.TotalAmount,
		Email:       session.Data.Email,
		PhoneNumber: session.SenderID,
	})
	if err != nil {
		slog.Error("checkout link", "sender", session.SenderID, "order_id", placed.OrderID, "error", err)
		return reply + fmt.Sprintf("\nI couldn't generate a payment link right now. Type 'pay %d' to try again.", placed.OrderID)
	}
	return reply + "\n💳 Complete your payment here:\n" + link
}

func (d *Dispatcher) handleTrackOrder(ctx context.Context, result domain.IntentResult) string {
	orderID, err := strconv.ParseInt(result.Param("order_id"), 10, 64)
	if err != nil {
		return prompt(result)
	}

	order, err := d.backend.TrackOrder(ctx, orderID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Sprintf("I couldn't find order #%d. Double check the ID and try again.", orderID)
	case err != nil:
		slog.Error("track order", "order_id", orderID, "error", err)
		return "I couldn't look up that order right now. Please try again."
	}
	return formatOrder(order)
}

func (d *Dispatcher) handleSearchDoctors(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	specialty := result.Param("specialty")
	if specialty == "" {
		return prompt(result)
	}
	location := result.Param("location")
	if location == "" {
		location = "Lagos"
	}

	doctors, err := d.backend.SearchDoctors(ctx, specialty, location)
	if err != nil {
		slog.Error("search doctors", "sender", session.SenderID, "specialty", specialty, "error", err)
		return "I couldn't search for doctors right now. Please try again."
	}
	if len(doctors) == 0 {
		return fmt.Sprintf("I couldn't find any %s doctors in %s. Try another specialty or location.", specialty, location)
	}

	if len(doctors) > maxCachedResults {
		doctors = doctors[:maxCachedResults]
	}
	session.Data.DoctorSearchResults = doctors
	return formatDoctors(specialty, location, doctors)
}

func (d *Dispatcher) handleBookAppointment(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	if len(session.Data.DoctorSearchResults) == 0 {
		return "Search for a doctor first, then book by number.\n\nExample: find a cardiologist in Lagos"
	}

	index, err := strconv.Atoi(result.Param("doctor_index"))
	if err != nil || index < 1 || index > len(session.Data.DoctorSearchResults) {
		return fmt.Sprintf("Please pick a doctor number between 1 and %d.", len(session.Data.DoctorSearchResults))
	}

	when, err := parseWhen(result.Param("date"), result.Param("time"))
	if err != nil {
		return "I need a date and time for the appointment.\n\nExample: book 1 2025-06-15 14:00"
	}

	doctor := session.Data.DoctorSearchResults[index-1]
	booked, err := d.backend.BookAppointment(ctx, session.Data.UserID, doctor.ID, when)
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return "❌ I couldn't book that: " + verr.Reason
		}
		slog.Error("book appointment", "sender", session.SenderID, "doctor_id", doctor.ID, "error", err)
		return "I couldn't book the appointment right now. Please try again."
	}

	d.relay.NotifyRole(ctx, domain.RoleMedical, session.SenderID, "New appointment",
		fmt.Sprintf("Appointment #%d with Dr. %s booked for %s.",
			booked.AppointmentID, doctor.Name, when.Format("2006-01-02 15:04")))
	return fmt.Sprintf("📅 Appointment confirmed with Dr. %s (%s) on %s.\n\nBooking reference: #%d",
		doctor.Name, doctor.Specialty, when.Format("Monday, 2 January 2006 at 3:04 PM"), booked.AppointmentID)
}

func (d *Dispatcher) handlePayment(ctx context.Context, session *domain.Session, result domain.IntentResult) string {
	orderID, err := strconv.ParseInt(result.Param("order_id"), 10, 64)
	if err != nil {
		return prompt(result)
	}

	order, _, err := d.repo.GetOrder(ctx, orderID)
	if err != nil {
		slog.Error("load order", "order_id", orderID, "error", err)
		return genericApology
	}
	if order == nil {
		return fmt.Sprintf("I couldn't find order #%d. Double check the ID and try again.", orderID)
	}
	if order.PaymentStatus == domain.PaymentPaid {
		return fmt.Sprintf("Order #%d is already paid. Type 'track %d' to follow your delivery.", orderID, orderID)
	}

	provider := result.Param("provider")
	if provider == "" {
		provider = "Flutterwave"
	}
	link, err := d.payments.CheckoutLink(ctx, providerFromMethod(provider), payment.Details{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Email:       session.Data.Email,
		PhoneNumber: session.SenderID,
	})
	if err != nil {
		slog.Error("checkout link", "order_id", orderID, "error", err)
		return "I couldn't generate a payment link right now. Please try again in a moment."
	}
	return fmt.Sprintf("💳 Pay ₦%.2f for order #%d here:\n%s\n\nI'll confirm here as soon as your payment goes through.",
		order.TotalAmount, order.ID, link)
}

func (d *Dispatcher) handleSupport(ctx context.Context, session *domain.Session) string {
	agent, err := d.relay.StartChat(ctx, session, domain.RoleGeneral)
	switch {
	case errors.Is(err, domain.ErrNoAgentAvailable):
		return "😔 All our support agents are busy right now. Please try again shortly, or email support@drugs.ng."
	case err != nil:
		slog.Error("start support chat", "sender", session.SenderID, "error", err)
		return genericApology
	}
	return fmt.Sprintf("🎧 You're connected to %s from our support team. Type your messages and they'll reply here.\n\nType 'end chat' when you're done.", agent.Name)
}

func (d *Dispatcher) handleDiagnosticTests(ctx context.Context, result domain.IntentResult) string {
	testType := result.Param("test_type")
	if testType == "" {
		return prompt(result)
	}

	tests, err := d.backend.SearchDiagnosticTests(ctx, testType)
	if err != nil {
		slog.Error("search diagnostic tests", "test_type", testType, "error", err)
		return "I couldn't look up diagnostic tests right now. Please try again."
	}
	if len(tests) == 0 {
		return fmt.Sprintf("I couldn't find any %q tests. Try 'blood test', 'malaria test' or type 'help'.", testType)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔬 Available %s options:\n\n", testType)
	for i, t := range tests {
		fmt.Fprintf(&b, "%d. %s - ₦%.2f\n", i+1, t.Name, t.Price)
	}
	b.WriteString("\nTo book a test, contact our support team by typing 'support'.")
	return b.String()
}

func (d *Dispatcher) handleHealthcareProducts(ctx context.Context, result domain.IntentResult) string {
	category := result.Param("category")
	if category == "" {
		return prompt(result)
	}

	products, err := d.backend.SearchHealthcareProducts(ctx, category)
	if err != nil {
		slog.Error("search healthcare products", "category", category, "error", err)
		return "I couldn't browse healthcare products right now. Please try again."
	}
	if len(products) == 0 {
		return fmt.Sprintf("I couldn't find any products in %q. Try 'first aid kit' or 'thermometer'.", category)
	}
	return formatProducts(category, products)
}

var resetRequestRe = regexp.MustCompile(`(?i)([A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,})(?:\s+(\d{4})\s+(\S+))?`)

// handlePasswordReset runs both halves of the reset flow: "reset <email>"
// issues a code, "reset <email> <code> <new password>" applies it.
func (d *Dispatcher) handlePasswordReset(ctx context.Context, session *domain.Session, text string) string {
	m := resetRequestRe.FindStringSubmatch(text)
	if m == nil {
		return defaultPrompts[domain.IntentPasswordReset] +
			"\n\nExample: reset john@example.com\nThen: reset john@example.com 1234 mynewpassword"
	}
	email := m[1]

	if m[2] == "" {
		code, err := d.otps.Issue(ctx, email, domain.OTPPasswordReset)
		if err != nil {
			slog.Error("issue reset otp", "sender", session.SenderID, "error", err)
			return genericApology
		}
		if err := d.mail.SendPasswordReset(ctx, email, "", code); err != nil {
			slog.Error("send reset otp", "sender", session.SenderID, "error", err)
			return "I couldn't send a reset email to " + email + ". Please check the address and try again."
		}
		return "📧 I've sent a 4-digit reset code to " + email +
			".\n\nReply with: reset " + email + " <code> <new password>"
	}

	code, newPassword := m[2], m[3]
	outcome, err := d.otps.Verify(ctx, email, code, domain.OTPPasswordReset)
	if err != nil {
		slog.Error("verify reset otp", "sender", session.SenderID, "error", err)
		return genericApology
	}
	switch outcome {
	case otp.VerifyMismatch:
		return "❌ That code doesn't match. Please check your email and try again."
	case otp.VerifyExpired, otp.VerifyNone:
		return "⏰ That code has expired. Type 'reset " + email + "' to get a new one."
	}

	if err := d.backend.RequestPasswordReset(ctx, email, code, newPassword); err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return "❌ Password reset failed: " + verr.Reason
		}
		slog.Error("reset password", "sender", session.SenderID, "error", err)
		return genericApology
	}
	return "🔑 Your password has been reset. Type 'login " + email + " <password>' to sign in."
}

func providerFromMethod(method string) string {
	switch strings.ToLower(method) {
	case "flutterwave":
		return payment.ProviderFlutterwave
	case "paystack":
		return payment.ProviderPaystack
	default:
		return ""
	}
}

// parseWhen combines the extracted date and time tokens into one timestamp.
// Dates come in as 2006-01-02 or 2/1/2006; times as 15:04 or 3:04pm.
func parseWhen(dateText, timeText string) (time.Time, error) {
	if dateText == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}

	var day time.Time
	var err error
	if strings.Contains(dateText, "/") {
		day, err = time.Parse("2/1/2006", dateText)
	} else {
		day, err = time.Parse("2006-01-02", dateText)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", dateText, err)
	}

	if timeText == "" {
		return day, nil
	}
	timeText = strings.ToLower(strings.ReplaceAll(timeText, " ", ""))
	var clock time.Time
	if strings.HasSuffix(timeText, "am") || strings.HasSuffix(timeText, "pm") {
		clock, err = time.Parse("3:04pm", timeText)
	} else {
		clock, err = time.Parse("15:04", timeText)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", timeText, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, time.Local), nil
}
