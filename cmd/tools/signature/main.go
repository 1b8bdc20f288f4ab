package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/noah-isme/razorpay-checkout/internal/razorpay"
)

// signature prints the checkout callback signature for an order/payment pair,
// or with -verify checks a given one.
// Exit code 0 = ok, 1 = signature mismatch, 2 = usage or configuration error.
func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	fs := flag.NewFlagSet("signature", flag.ContinueOnError)
	fs.SetOutput(stderr)
	orderID := fs.String("order", "", "razorpay_order_id")
	paymentID := fs.String("payment", "", "razorpay_payment_id")
	secret := fs.String("secret", "", "key secret (defaults to RAZORPAY_KEY_SECRET)")
	verify := fs.String("verify", "", "signature to check instead of printing the expected one")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	key := strings.TrimSpace(*secret)
	if key == "" {
		key = strings.TrimSpace(getenv("RAZORPAY_KEY_SECRET"))
	}
	if key == "" {
		fmt.Fprintln(stderr, "signature: no secret; pass -secret or set RAZORPAY_KEY_SECRET")
		return 2
	}
	if *orderID == "" || *paymentID == "" {
		fmt.Fprintln(stderr, "signature: -order and -payment are required")
		fs.Usage()
		return 2
	}

	if *verify == "" {
		fmt.Fprintln(stdout, razorpay.Signature(key, *orderID, *paymentID))
		return 0
	}
	if razorpay.VerifySignature(key, *orderID, *paymentID, *verify) {
		fmt.Fprintln(stdout, "signature: OK")
		return 0
	}
	fmt.Fprintln(stderr, "signature: MISMATCH")
	return 1
}
