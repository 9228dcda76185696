// Package soapgw is a client for the Nepal Telecom SOAP authentication
// gateway. It speaks the two operations the OTP flow needs —
// GenerateAuthPassword and ValidateOTP — over plain HTTP with a hand-built
// envelope, and supports binding outbound connections to a specific local
// interface for deployments that reach the gateway over a VPN route.
package soapgw

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// gatewayNamespace is the XML namespace of the gateway's operations and
// the AuthHeader, as published in its WSDL.
const gatewayNamespace = "NepalTelecom.AuthGateway"

// ErrUnreachable wraps transport-level failures: the gateway could not be
// reached or did not answer within the configured timeout.
var ErrUnreachable = errors.New("auth gateway unreachable")

// Result is the gateway's answer to an operation: a string result code and,
// for GenerateAuthPassword, the remote transaction id. Codes "0" and "00"
// mean success; every other value is an opaque failure code surfaced
// verbatim in diagnostics.
type Result struct {
	Code          string
	TransactionID string
}

// OK reports whether the result code is one of the gateway's success codes.
func (r Result) OK() bool {
	return r.Code == "0" || r.Code == "00"
}

// Config holds gateway connection settings.
type Config struct {
	// Endpoint is the service URL, e.g. "http://192.168.200.85/Authuser.asmx".
	Endpoint string
	// Username and Password fill the AuthHeader on every request.
	Username string
	Password string
	// BusiCode is the business/tenant code registered with the gateway.
	BusiCode string
	// Timeout bounds each gateway call, distinct from any challenge expiry.
	Timeout time.Duration
	// LocalAddr, when set, binds outbound connections to this source IP
	// (the VPN interface address). Empty means the default route.
	LocalAddr string
}

// Client calls the authentication gateway. Construct with NewClient; a
// Client is safe for concurrent use.
type Client struct {
	endpoint string
	username string
	password string
	busiCode string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a gateway client from cfg. The http.Client is built
// here with an explicit lifetime rather than shared process-wide state.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("gateway endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.LocalAddr != "" {
		ip := net.ParseIP(cfg.LocalAddr)
		if ip == nil {
			return nil, fmt.Errorf("invalid gateway local address %q", cfg.LocalAddr)
		}
		dialer := &net.Dialer{
			LocalAddr: &net.TCPAddr{IP: ip},
			Timeout:   timeout,
		}
		httpClient.Transport = &http.Transport{
			DialContext:           dialer.DialContext,
			ResponseHeaderTimeout: timeout,
		}
		logger.Info("gateway client bound to local interface", zap.String("local_addr", cfg.LocalAddr))
	}

	return &Client{
		endpoint: cfg.Endpoint,
		username: cfg.Username,
		password: cfg.Password,
		busiCode: cfg.BusiCode,
		http:     httpClient,
		logger:   logger,
	}, nil
}

// ── Envelope types ─────────────────────────────────────────────────────────

type envelope struct {
	XMLName   xml.Name `xml:"soap:Envelope"`
	XmlnsXSI  string   `xml:"xmlns:xsi,attr"`
	XmlnsXSD  string   `xml:"xmlns:xsd,attr"`
	XmlnsSOAP string   `xml:"xmlns:soap,attr"`
	Header    header   `xml:"soap:Header"`
	Body      body     `xml:"soap:Body"`
}

type header struct {
	Auth authHeader `xml:"AuthHeader"`
}

type authHeader struct {
	XMLNS    string `xml:"xmlns,attr"`
	Username string `xml:"Username"`
	Password string `xml:"Password"`
}

// body holds the operation payload; the element name comes from the
// payload struct's XMLName.
type body struct {
	Payload any
}

type generateAuthPassword struct {
	XMLName  xml.Name `xml:"GenerateAuthPassword"`
	XMLNS    string   `xml:"xmlns,attr"`
	MDN      string   `xml:"MDN"`
	Busicode string   `xml:"Busicode"`
}

type validateOTP struct {
	XMLName  xml.Name `xml:"ValidateOTP"`
	XMLNS    string   `xml:"xmlns,attr"`
	MDN      string   `xml:"MDN"`
	BusiCode string   `xml:"BusiCode"`
	OTP      string   `xml:"OTP"`
	TrID     string   `xml:"TrId"`
}

type generateResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			TransactionID string `xml:"GenerateAuthPasswordResult"`
			ResultCode    string `xml:"ResultCode"`
		} `xml:"GenerateAuthPasswordResponse"`
	} `xml:"Body"`
}

type validateResponse struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Response struct {
			ResultCode string `xml:"ValidateOTPResult"`
		} `xml:"ValidateOTPResponse"`
	} `xml:"Body"`
}

// ── Operations ─────────────────────────────────────────────────────────────

// GenerateAuthPassword asks the gateway to deliver an OTP to the given
// mobile number. On success the Result carries the remote transaction id
// that must be presented again on ValidateOTP.
func (c *Client) GenerateAuthPassword(ctx context.Context, mdn string) (Result, error) {
	payload := generateAuthPassword{
		XMLNS:    gatewayNamespace,
		MDN:      mdn,
		Busicode: c.busiCode,
	}

	raw, err := c.call(ctx, "GenerateAuthPassword", payload)
	if err != nil {
		return Result{}, err
	}

	var resp generateResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("decode GenerateAuthPassword response: %w", err)
	}

	res := Result{
		Code:          resp.Body.Response.ResultCode,
		TransactionID: resp.Body.Response.TransactionID,
	}
	if res.Code == "" {
		return Result{}, fmt.Errorf("malformed GenerateAuthPassword response: missing ResultCode")
	}

	c.logger.Debug("gateway GenerateAuthPassword",
		zap.String("mdn", mdn),
		zap.String("result_code", res.Code),
		zap.String("tr_id", res.TransactionID),
	)
	return res, nil
}

// ValidateOTP checks the user-supplied code against the gateway transaction
// opened by a previous GenerateAuthPassword call.
func (c *Client) ValidateOTP(ctx context.Context, mdn, code, trID string) (Result, error) {
	payload := validateOTP{
		XMLNS:    gatewayNamespace,
		MDN:      mdn,
		BusiCode: c.busiCode,
		OTP:      code,
		TrID:     trID,
	}

	raw, err := c.call(ctx, "ValidateOTP", payload)
	if err != nil {
		return Result{}, err
	}

	var resp validateResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return Result{}, fmt.Errorf("decode ValidateOTP response: %w", err)
	}

	res := Result{Code: resp.Body.Response.ResultCode}
	if res.Code == "" {
		return Result{}, fmt.Errorf("malformed ValidateOTP response: missing ValidateOTPResult")
	}

	c.logger.Debug("gateway ValidateOTP",
		zap.String("mdn", mdn),
		zap.String("tr_id", trID),
		zap.String("result_code", res.Code),
	)
	return res, nil
}

// Ping probes gateway connectivity without opening an OTP transaction.
// Used by the status endpoint and by the orchestrator's mock substitution.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?WSDL", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// call posts a SOAP envelope for the named action and returns the raw
// response body.
func (c *Client) call(ctx context.Context, action string, payload any) ([]byte, error) {
	env := envelope{
		XmlnsXSI:  "http://www.w3.org/2001/XMLSchema-instance",
		XmlnsXSD:  "http://www.w3.org/2001/XMLSchema",
		XmlnsSOAP: "http://schemas.xmlsoap.org/soap/envelope/",
		Header: header{
			Auth: authHeader{
				XMLNS:    gatewayNamespace,
				Username: c.username,
				Password: c.password,
			},
		},
		Body: body{Payload: payload},
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", fmt.Sprintf("%q", gatewayNamespace+"/"+action))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, action, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d for %s", resp.StatusCode, action)
	}
	return raw, nil
}
