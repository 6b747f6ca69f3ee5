package bot

import (
	"fmt"
	"strings"

	"github.com/drugsng/whatsapp-bot/internal/domain"
	"github.com/drugsng/whatsapp-bot/internal/nlp"
)

// Fixed copy sent by the dispatcher. Wording is part of the conversational
// contract; tests assert on fragments of it.
const (
	authRequiredMessage = "🔐 *Authentication Required*\n\n" +
		"You need to be logged in to access this feature.\n\n" +
		"Please login with your email and password:\nExample: login john@example.com mypassword\n\n" +
		"Or register if you're new:\nExample: register John Doe john@example.com mypassword\n\n" +
		"📋 Type \"help\" to see all options."

	genericApology = "Sorry, something went wrong. Please try again later."

	rateLimitMessage = "You're sending messages too quickly. Please wait a moment and try again."

	nothingPendingMessage = "There's no prescription upload pending. Send your prescription as an attachment first, then link it with 'rx <order id>'."

	newUserGreeting = "Welcome to Drugs.ng! Your health companion in Africa. " +
		"Are you a new user? Reply 'register' to sign up or 'login' if you already have an account."

	returningUserGreeting = "Welcome back! How can I assist you today? " +
		"You can ask me about medicines, doctors, orders, or type 'help' for assistance."

	logoutMessage = "👋 You have been logged out successfully.\n\n" +
		"Type 'help' to get started again or 'login' to sign back in."
)

// Default prompts per intent, used when the resolver supplied no
// fulfillment text.
var defaultPrompts = map[domain.Intent]string{
	domain.IntentHelp:               nlp.HelpMessage,
	domain.IntentRegister:           "I'll help you register. Please provide your full name, email, and a password.\n\nExample: register John Doe john@example.com mypassword",
	domain.IntentLogin:              "I'll help you login. Please provide your email and password.\n\nExample: login john@example.com mypassword",
	domain.IntentSearchProducts:     "What medicine or product are you looking for?",
	domain.IntentAddToCart:          "Please specify the product number and quantity.\n\nExample: add 1 2 (adds 2 units of product 1)",
	domain.IntentPlaceOrder:         "I can help you place an order. Please provide your delivery address and payment method.",
	domain.IntentTrackOrder:         "Please provide your order ID to track it.\n\nExample: track 12345",
	domain.IntentSearchDoctors:      "What type of doctor are you looking for? (e.g., cardiologist, pediatrician)",
	domain.IntentBookAppointment:    "I can help you book an appointment. Please provide the doctor and your preferred date and time.",
	domain.IntentPayment:            "I can help you make a payment. Please provide your order ID and preferred payment method.",
	domain.IntentSupport:            "Connecting you to our support team. Please describe your issue.",
	domain.IntentDiagnosticTests:    "What diagnostic test would you like to book? (e.g., blood test, malaria test, thyroid test)",
	domain.IntentHealthcareProducts: "What healthcare product would you like to browse? (e.g., first aid kit, thermometer, oximeter)",
	domain.IntentPasswordReset:      "I'll help you reset your password. Please provide your email address.",
	domain.IntentPrescriptionUpload: "Please upload your prescription document (image or PDF) by sending it as an attachment.",
	domain.IntentUnknown:            "I'm not sure how to help with that. Type 'help' to see available options.",
}

// withOptions appends the quick-options footer every bot reply carries.
func withOptions(message string, loggedIn bool) string {
	var footer string
	if loggedIn {
		footer = "📋 *Options:* Type \"help\" for menu | \"logout\" to sign out"
	} else {
		footer = "📋 *Options:* Type \"help\" for menu | \"login\" to sign in | \"register\" to create account"
	}
	return message + "\n\n---\n" + footer
}

func formatProducts(query string, products []domain.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here are some products matching %q:\n\n", query)
	for i, p := range products {
		fmt.Fprintf(&b, "%d. %s\n   Price: ₦%.2f\n   Category: %s\n\n", i+1, p.Name, p.Price, p.Category)
	}
	b.WriteString("To add a product to your cart, reply with \"add [product number] [quantity]\"\n")
	b.WriteString("Example: \"add 1 2\" to add 2 units of the first product.")
	return b.String()
}

func formatDoctors(specialty, location string, doctors []domain.Doctor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Here are some %s doctors in %s:\n\n", specialty, location)
	for i, d := range doctors {
		fmt.Fprintf(&b, "%d. Dr. %s\n   Specialty: %s\n   Location: %s\n   Rating: %.1f/5\n\n",
			i+1, d.Name, d.Specialty, d.Location, d.Rating)
	}
	b.WriteString("To book an appointment, reply with \"book [doctor number] [date] [time]\"\n")
	b.WriteString("Example: \"book 1 2025-06-15 14:00\" to book the first doctor on June 15th at 2 PM.")
	return b.String()
}

var statusEmoji = map[string]string{
	domain.OrderProcessing: "⏳",
	domain.OrderShipped:    "🚚",
	domain.OrderDelivered:  "✅",
	domain.OrderCancelled:  "❌",
}

func formatOrder(order *domain.Order) string {
	emoji := statusEmoji[order.Status]
	if emoji == "" {
		emoji = "📦"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s *Order #%d Status*\n\n", emoji, order.ID)
	fmt.Fprintf(&b, "Status: %s\n", order.Status)
	fmt.Fprintf(&b, "Placed: %s\n", order.OrderDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Amount: ₦%.2f\n", order.TotalAmount)
	fmt.Fprintf(&b, "Payment: %s\n\n", order.PaymentStatus)

	b.WriteString("*Items:*\n")
	if len(order.Items) == 0 {
		b.WriteString("• No items found\n")
	}
	for _, item := range order.Items {
		fmt.Fprintf(&b, "• %s x%d = ₦%.2f\n", item.Name, item.Quantity, item.Price*float64(item.Quantity))
	}

	address := order.ShippingAddress
	if address == "" {
		address = "Not provided"
	}
	fmt.Fprintf(&b, "\n*Delivery Address:*\n%s\n\n", address)
	b.WriteString("Need help? Type 'support' to chat with our team.")
	return b.String()
}
