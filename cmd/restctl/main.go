package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	apiURL  string
	cfgFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "restctl",
	Short: "Rest NTC membership API CLI",
	Long: `restctl is the command-line interface for the Rest NTC membership API.

It sends and verifies OTP challenges and reports the availability of the
SMS gateway and email delivery paths.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.restctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if apiURL == "" {
			apiURL = viper.GetString("api_url")
		}
		if apiURL == "" {
			apiURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.restctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "membership API base URL (default http://localhost:8080)")

	rootCmd.AddCommand(otpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// postJSON sends a JSON body and decodes the JSON response, whatever the
// status code; callers inspect "error" themselves.
func postJSON(path string, body any) (map[string]any, int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("non-JSON response (%d): %s", resp.StatusCode, raw)
	}
	return out, resp.StatusCode, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── otp ──────────────────────────────────────────────────────────────────────

var otpCmd = &cobra.Command{
	Use:   "otp",
	Short: "Send and verify one-time passwords",
}

var (
	otpMethod string
	otpToken  string
	otpCode   string
)

var otpSendCmd = &cobra.Command{
	Use:   "send <identifier>",
	Short: "Send an OTP to a mobile number or email address",
	Long: `Send issues an OTP challenge for the given identifier.

The identifier is a mobile number for --method sms or an email address for
--method email. On success the printed token must be presented back to
"restctl otp verify" together with the received code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, status, err := postJSON("/api/v1/otp/send", map[string]string{
			"identifier":      args[0],
			"delivery_method": otpMethod,
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			if suggested, ok := out["suggested_fallback"]; ok {
				fmt.Fprintf(os.Stderr, "hint: retry with --method %v\n", suggested)
			}
			return fmt.Errorf("send failed (%d): %v", status, out["error"])
		}
		return printJSON(out)
	},
}

var otpVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a previously sent OTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, status, err := postJSON("/api/v1/otp/verify", map[string]string{
			"token":           otpToken,
			"otp":             otpCode,
			"delivery_method": otpMethod,
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("verify failed (%d): %v", status, out["error"])
		}
		return printJSON(out)
	},
}

func init() {
	otpCmd.PersistentFlags().StringVar(&otpMethod, "method", "sms", "Delivery method: sms or email")
	otpVerifyCmd.Flags().StringVar(&otpToken, "token", "", "Token returned by otp send (required)")
	otpVerifyCmd.Flags().StringVar(&otpCode, "otp", "", "The one-time password received (required)")
	_ = otpVerifyCmd.MarkFlagRequired("token")
	_ = otpVerifyCmd.MarkFlagRequired("otp")

	otpCmd.AddCommand(otpSendCmd)
	otpCmd.AddCommand(otpVerifyCmd)
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report OTP delivery channel availability",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/otp/status", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() //nolint:errcheck

		var out map[string]any
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
			return fmt.Errorf("decode status response: %w", err)
		}
		return printJSON(out)
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the restctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("restctl %s\n", version)
	},
}
