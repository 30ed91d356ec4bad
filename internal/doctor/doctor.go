// Package doctor validates droverd configuration beyond the structural
// checks config.Load performs: URL sanity, credential pairing, liveness and
// status-server settings, and heartbeat coverage.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/croftlabs/drover/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateURL(r)
	d.validateCredentials(r)
	d.validateStatus(r)
	d.warnMissingStamp(r)
	d.warnHeartbeatCoverage(r)
	d.warnQueueSizing(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateURL(r *Result) {
	u, err := url.Parse(d.cfg.Agent.URL)
	if err != nil {
		d.addError(r, "agent", "agent.url", fmt.Sprintf("invalid URL: %v", err))
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		d.addError(r, "agent", "agent.url",
			fmt.Sprintf("unsupported scheme %q (expected http or https)", u.Scheme))
	}
	if u.Host == "" {
		d.addError(r, "agent", "agent.url", "URL has no host")
	}
	if u.Scheme == "http" && !isLoopbackHost(u.Hostname()) {
		d.addWarning(r, "agent", "agent.url",
			"credentials travel over plain http to a non-loopback host")
	}
}

func (d *Doctor) validateCredentials(r *Result) {
	access, secret := d.cfg.Agent.AccessKey, d.cfg.Agent.SecretKey
	if access != "" && secret == "" {
		d.addError(r, "credentials", "agent.secret_key",
			"access_key is set but secret_key is empty")
	}
	if access == "" && secret != "" {
		d.addWarning(r, "credentials", "agent.access_key",
			"secret_key is set but access_key is empty; requests will be unauthenticated")
	}
	if access == "" && secret == "" {
		d.addWarning(r, "credentials", "agent",
			"no credentials configured; subscription will be unauthenticated")
	}
}

func (d *Doctor) validateStatus(r *Result) {
	if !d.cfg.Status.Enabled {
		return
	}
	host, _, err := net.SplitHostPort(d.cfg.Status.Listen)
	if err != nil {
		d.addError(r, "status", "status.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.Status.Listen, err))
		return
	}
	if !isLoopbackHost(host) {
		d.addWarning(r, "status", "status.listen",
			fmt.Sprintf("status server listens beyond loopback (%s) with no authentication", d.cfg.Status.Listen))
	}
}

func (d *Doctor) warnMissingStamp(r *Result) {
	if d.cfg.Agent.StampPath == "" {
		return
	}
	if _, err := os.Stat(d.cfg.Agent.StampPath); err != nil {
		d.addWarning(r, "liveness", "agent.stamp_path",
			fmt.Sprintf("stamp file %s does not exist; the stamp liveness check is unconstrained until it appears", d.cfg.Agent.StampPath))
	}
}

func (d *Doctor) warnHeartbeatCoverage(r *Result) {
	for _, name := range d.cfg.Events.Names {
		if name == "ping" {
			return
		}
	}
	d.addWarning(r, "events", "events.names",
		"subscription does not include \"ping\"; a quiet stream will hit the read timeout and cycle the agent")
}

func (d *Doctor) warnQueueSizing(r *Result) {
	if d.cfg.Events.Workers > d.cfg.Events.QueueDepth {
		d.addWarning(r, "events", "events.workers",
			fmt.Sprintf("more workers (%d) than queue slots (%d); extra workers will sit idle",
				d.cfg.Events.Workers, d.cfg.Events.QueueDepth))
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
