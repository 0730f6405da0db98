package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urbex-io/auctionhouse/receipts"
)

func main() {
	var (
		receiptInput = flag.String("receipt", "", "Signed receipt (file path or inline base64)")
		keyInput     = flag.String("public-key", "", "Issuer public key PEM (file path or inline PEM)")
		metadataFile = flag.String("metadata", "", "Optional: settlement metadata file to check against the receipt digest")
		outputFormat = flag.String("format", "text", "Output format: text or json")
		help         = flag.Bool("help", false, "Show usage information")
	)

	flag.Parse()

	if *help {
		showUsage()
		os.Exit(0)
	}

	if *receiptInput == "" || *keyInput == "" {
		showUsage()
		fmt.Fprintf(os.Stderr, "\nError: --receipt and --public-key are required\n")
		os.Exit(1)
	}

	signed, err := readReceiptInput(*receiptInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading receipt: %v\n", err)
		os.Exit(2)
	}

	keyPEM, err := readKeyInput(*keyInput)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading public key: %v\n", err)
		os.Exit(2)
	}

	publicKey, err := receipts.ParsePublicKeyPEM(keyPEM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing public key: %v\n", err)
		os.Exit(2)
	}

	receipt, err := receipts.Verify(signed, publicKey)
	if err != nil {
		if *outputFormat == "json" {
			outputJSON(nil, false, err.Error())
		} else {
			fmt.Printf("VALIDATION: ✗ FAILED\n%v\n", err)
		}
		os.Exit(1)
	}

	metadataOK := true
	metadataMessage := "not checked"
	if *metadataFile != "" {
		metadata, err := os.ReadFile(*metadataFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading metadata file: %v\n", err)
			os.Exit(2)
		}
		digest := receipts.DigestMetadata(metadata)
		metadataOK = digest == receipt.MetadataDigest
		if metadataOK {
			metadataMessage = "digest matches"
		} else {
			metadataMessage = fmt.Sprintf("digest mismatch: receipt has %s, file digests to %s", receipt.MetadataDigest, digest)
		}
	}

	if *outputFormat == "json" {
		outputJSON(receipt, metadataOK, metadataMessage)
	} else {
		outputText(receipt, metadataOK, metadataMessage)
	}

	if !metadataOK {
		os.Exit(1)
	}
	os.Exit(0)
}

func showUsage() {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println()
	fmt.Println("Verifies a COSE_Sign1 settlement receipt against the issuer's public key.")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  receipt-validator --receipt <input> --public-key <input> [options]")
	fmt.Println()
	fmt.Println("Required Flags:")
	fmt.Println("  --receipt <input>       Signed receipt: file path or inline base64")
	fmt.Println("  --public-key <input>    Issuer key: PEM file path or inline PEM")
	fmt.Println()
	fmt.Println("Optional Flags:")
	fmt.Println("  --metadata <file>       Check a settlement metadata file against the receipt digest")
	fmt.Println("  --format <text|json>    Output format (default: text)")
	fmt.Println("  --help                  Show this help message")
	fmt.Println()
	fmt.Println("Exit Codes:")
	fmt.Println("  0 - Receipt valid")
	fmt.Println("  1 - Verification failed")
	fmt.Println("  2 - Invalid input or runtime error")
}

func readReceiptInput(input string) ([]byte, error) {
	// Try reading as file first; file contents are base64 lines as
	// written by marketd's receipt log.
	if data, err := os.ReadFile(input); err == nil {
		return base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(input))
}

func readKeyInput(input string) ([]byte, error) {
	if data, err := os.ReadFile(input); err == nil {
		return data, nil
	}
	return []byte(input), nil
}

func outputText(r *receipts.Receipt, metadataOK bool, metadataMessage string) {
	fmt.Println("Settlement Receipt Validator")
	fmt.Println("============================")
	fmt.Println()
	fmt.Printf("  Receipt ID:   %s\n", r.ReceiptID)
	fmt.Printf("  Item:         %s/%d\n", r.Collection, r.TokenID)
	fmt.Printf("  Seller:       %s\n", r.Seller)
	fmt.Printf("  Winner:       %s\n", r.Winner)
	fmt.Printf("  Price:        %s\n", r.Price)
	fmt.Printf("  Issued At:    %s\n", time.Unix(r.IssuedAt, 0).UTC().Format(time.RFC3339))
	fmt.Printf("  Metadata:     %s\n", metadataMessage)
	fmt.Println()
	if metadataOK {
		fmt.Println("VALIDATION: ✓ PASSED")
	} else {
		fmt.Println("VALIDATION: ✗ FAILED")
	}
}

func outputJSON(r *receipts.Receipt, metadataOK bool, metadataMessage string) {
	output := map[string]any{
		"valid":            r != nil && metadataOK,
		"metadata_message": metadataMessage,
	}
	if r != nil {
		output["receipt"] = r
	}

	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling JSON: %v\n", err)
		os.Exit(2)
	}
	fmt.Println(string(data))
}
