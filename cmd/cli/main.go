package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL     string
	paymentHeader string
	timeout       string
	language      string
	tierName      string
)

func main() {
	root := &cobra.Command{
		Use:   "x402-sandbox-cli",
		Short: "CLI client for the x402 paid execution service",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	root.PersistentFlags().StringVar(&paymentHeader, "payment-header", os.Getenv("X402_PAYMENT_HEADER"),
		"Base64 X-Payment header value (a signed transfer authorization)")

	execCmd := &cobra.Command{
		Use:   "exec [code]",
		Short: "Execute code (reads stdin when no argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runExec,
	}
	execCmd.Flags().StringVar(&timeout, "timeout", "", "Execution timeout (tightens the tier ceiling)")
	execCmd.Flags().StringVarP(&language, "language", "l", "javascript", "Language")
	execCmd.Flags().StringVar(&tierName, "tier", "basic", "Service tier (basic, standard, premium)")
	root.AddCommand(execCmd)

	execFileCmd := &cobra.Command{
		Use:   "exec-file [file]",
		Short: "Execute code from a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runExecFile,
	}
	execFileCmd.Flags().StringVar(&timeout, "timeout", "", "Execution timeout (tightens the tier ceiling)")
	execFileCmd.Flags().StringVarP(&language, "language", "l", "javascript", "Language")
	execFileCmd.Flags().StringVar(&tierName, "tier", "basic", "Service tier (basic, standard, premium)")
	root.AddCommand(execFileCmd)

	root.AddCommand(&cobra.Command{
		Use:   "discover",
		Short: "Show tiers, prices, and payment parameters",
		RunE:  runDiscover,
	})

	root.AddCommand(&cobra.Command{
		Use:   "verify [proof-file]",
		Short: "Verify a proof against its inputs (JSON file or stdin)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runVerify,
	})

	root.AddCommand(&cobra.Command{
		Use:   "trust",
		Short: "Show payee addresses, trust indicators, and compliance flags",
		RunE:  runTrust,
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(cmd *cobra.Command, args []string) error {
	var code string

	if len(args) > 0 {
		code = args[0]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return executeCode(code)
}

func runExecFile(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return executeCode(string(data))
}

func executeCode(code string) error {
	payload := map[string]any{
		"code":     code,
		"language": language,
		"tier":     tierName,
	}
	if timeout != "" {
		payload["timeout"] = timeout
	}

	body, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", serverURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if paymentHeader != "" {
		req.Header.Set("X-Payment", paymentHeader)
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	switch resp.StatusCode {
	case http.StatusOK:
		if success, ok := result["success"].(bool); ok && !success {
			os.Exit(1)
		}
		return nil
	case http.StatusPaymentRequired:
		fmt.Fprintln(os.Stderr, "payment required: sign an authorization for one of the accepted tiers and pass it via --payment-header")
		os.Exit(2)
	default:
		os.Exit(1)
	}
	return nil
}

func runDiscover(_ *cobra.Command, _ []string) error {
	return getJSON("/discovery")
}

func runTrust(_ *cobra.Command, _ []string) error {
	return getJSON("/verify")
}

func runHealth(_ *cobra.Command, _ []string) error {
	return getJSON("/health")
}

func runVerify(_ *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) > 0 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading proof inputs: %w", err)
	}

	resp, err := http.Post(serverURL+"/verify", "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if valid, ok := result["valid"].(bool); ok && !valid {
		os.Exit(1)
	}
	return nil
}

func getJSON(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}
