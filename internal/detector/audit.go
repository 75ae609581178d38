package detector

import (
	"bufio"
	"context"
	"crypto/tls"
	"strconv"
	"strings"

	"github.com/reconscan/reconscan/internal/prober"
)

// auditHTTPS performs an HTTP GET inside a fresh TLS connection and
// assembles the security-headers audit spec.md §4.5 requires for port
// 443 (or any port that completed a TLS handshake). It never aborts
// the overall PortResult: failures land in HTTPInfo.Error.
func auditHTTPS(ctx context.Context, dialer prober.Dialer, ip string, port int) *HTTPInfo {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return &HTTPInfo{Error: err.Error()}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return &HTTPInfo{Error: "tls handshake: " + err.Error()}
	}
	defer func() { _ = tlsConn.Close() }()

	req := "GET / HTTP/1.1\r\nHost: " + ip + "\r\nConnection: close\r\n\r\n"
	if _, err := tlsConn.Write([]byte(req)); err != nil {
		return &HTTPInfo{Error: "request: " + err.Error()}
	}

	reader := bufio.NewReader(tlsConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil && statusLine == "" {
		return &HTTPInfo{Error: "response: " + err.Error()}
	}

	statusCode, httpVersion := parseStatusLine(statusLine)

	headers := map[string]string{}
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" || err != nil {
			break
		}
		if i := strings.Index(line, ":"); i > 0 {
			headers[strings.ToLower(strings.TrimSpace(line[:i]))] = strings.TrimSpace(line[i+1:])
		}
	}

	body := make([]byte, 8192)
	n, _ := reader.Read(body)
	bodyStr := string(body[:n])

	info := &HTTPInfo{
		StatusCode:  statusCode,
		HTTPVersion: httpVersion,
	}
	info.SecurityHeadersAudit, info.CSPWarnings = auditSecurityHeaders(headers)
	info.CORSWarnings = auditCORS(headers)
	info.DirectoryListing = looksLikeDirectoryListing(bodyStr)
	info.FormsOverHTTP = hasFormsOverHTTP(bodyStr)
	info.SecurityScore = scoreSecurity(info)

	return info
}

func parseStatusLine(line string) (int, string) {
	line = strings.TrimSpace(line)
	m := httpLineRe.FindStringSubmatch(line)
	if m == nil {
		return 0, ""
	}
	code, _ := strconv.Atoi(m[2])
	return code, m[1]
}

// auditSecurityHeaders classifies the presence/strength of the
// headers spec.md §4.5 names, returning a header→status map
// (present|weak|missing) plus free-form CSP warnings.
func auditSecurityHeaders(headers map[string]string) (map[string]string, []string) {
	result := map[string]string{
		"hsts":                  "missing",
		"x-frame-options":       "missing",
		"x-content-type-options": "missing",
		"content-security-policy": "missing",
	}
	var cspWarnings []string

	if v, ok := headers["strict-transport-security"]; ok {
		result["hsts"] = "present"
		if !strings.Contains(v, "max-age") {
			result["hsts"] = "weak"
		}
	}
	if v, ok := headers["x-frame-options"]; ok {
		result["x-frame-options"] = "present"
		upper := strings.ToUpper(v)
		if upper != "DENY" && upper != "SAMEORIGIN" {
			result["x-frame-options"] = "weak"
		}
	}
	if v, ok := headers["x-content-type-options"]; ok {
		result["x-content-type-options"] = "present"
		if strings.ToLower(v) != "nosniff" {
			result["x-content-type-options"] = "weak"
		}
	}
	if csp, ok := headers["content-security-policy"]; ok {
		result["content-security-policy"] = "present"
		if strings.Contains(csp, "unsafe-inline") {
			cspWarnings = append(cspWarnings, "unsafe-inline permitted")
		}
		if strings.Contains(csp, "unsafe-eval") {
			cspWarnings = append(cspWarnings, "unsafe-eval permitted")
		}
		if strings.Contains(csp, "*") {
			cspWarnings = append(cspWarnings, "wildcard source present")
			result["content-security-policy"] = "weak"
		}
	}

	return result, cspWarnings
}

func auditCORS(headers map[string]string) []string {
	var warnings []string
	if v, ok := headers["access-control-allow-origin"]; ok {
		if v == "*" {
			warnings = append(warnings, "Access-Control-Allow-Origin is wildcard")
		}
		if _, credOK := headers["access-control-allow-credentials"]; credOK && v == "*" {
			warnings = append(warnings, "wildcard origin combined with credentialed requests")
		}
	}
	return warnings
}

func looksLikeDirectoryListing(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "index of /") || strings.Contains(lower, "<title>directory listing")
}

func hasFormsOverHTTP(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, `action="http://`) || strings.Contains(lower, `action='http://`)
}

func scoreSecurity(info *HTTPInfo) int {
	score := 100
	for _, status := range info.SecurityHeadersAudit {
		switch status {
		case "missing":
			score -= 15
		case "weak":
			score -= 8
		}
	}
	score -= 10 * len(info.CSPWarnings)
	score -= 10 * len(info.CORSWarnings)
	if info.DirectoryListing {
		score -= 20
	}
	if info.FormsOverHTTP {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}
