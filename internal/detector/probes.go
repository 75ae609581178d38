package detector

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/reconscan/reconscan/internal/prober"
)

// probeResult is an active probe's private verdict; Detect converts a
// matching one into a PortResult.
type probeResult struct {
	matched    bool
	transient  bool // dial/write/read failed; a retry may succeed
	confidence float64
	service    string
	version    string
	banner     string
	tls        *TLSInfo
}

type activeProbe struct {
	name string
	run  func(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult
}

// activeProbes is tried in this order for every open port, per the
// probe table in spec.md §4.5. Order matches the spec's table.
var activeProbes = []activeProbe{
	{name: "http", run: probeHTTP},
	{name: "tls", run: probeTLS},
	{name: "ssh", run: probeSSH},
	{name: "ftp", run: probeFTP},
	{name: "smtp", run: probeSMTP},
	{name: "mysql", run: probeMySQL},
	{name: "postgresql", run: probePostgreSQL},
	{name: "redis", run: probeRedis},
	{name: "mongodb", run: probeMongoDB},
}

var (
	sshBannerRe = regexp.MustCompile(`^SSH-(\d+\.\d+)-(\S+)`)
	httpLineRe  = regexp.MustCompile(`^HTTP/(\d+\.\d+)\s+(\d+)`)
	serverHdrRe = regexp.MustCompile(`(?i)^Server:\s*(.+)$`)
)

func dial(ctx context.Context, dialer prober.Dialer, ip string, port int) (net.Conn, error) {
	return dialer.DialContext(ctx, "tcp", net.JoinHostPort(ip, strconv.Itoa(port)))
}

func readLine(conn net.Conn, deadline time.Time) (string, error) {
	_ = conn.SetReadDeadline(deadline)
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

func truncateBanner(s string) string {
	const maxBanner = 1024
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if len(s) > maxBanner {
		return s[:maxBanner]
	}
	return s
}

// probeHTTP sends a minimal HTTP/1.0 request and checks for a status
// line, per spec.md §4.5's HTTP row.
func probeHTTP(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)
	if _, err := conn.Write([]byte("GET / HTTP/1.0\r\n\r\n")); err != nil {
		return probeResult{transient: true}
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		return probeResult{transient: true}
	}
	banner := string(buf[:n])

	m := httpLineRe.FindStringSubmatch(banner)
	if m == nil {
		return probeResult{}
	}

	version := m[1]
	server := ""
	for _, line := range strings.Split(banner, "\n") {
		if sm := serverHdrRe.FindStringSubmatch(strings.TrimSpace(line)); sm != nil {
			server = strings.TrimSpace(sm[1])
			break
		}
	}

	name := "http"
	if server != "" {
		name = fmt.Sprintf("http (%s)", server)
	}

	return probeResult{matched: true, confidence: 0.95, service: name, version: version, banner: truncateBanner(banner)}
}

// probeTLS attempts a TLS handshake; a completed handshake is a
// high-confidence HTTPS match regardless of what rides on top of it.
func probeTLS(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	tlsConn := tls.Client(conn, &tls.Config{InsecureSkipVerify: true})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return probeResult{}
	}
	defer func() { _ = tlsConn.Close() }()

	state := tlsConn.ConnectionState()
	info := &TLSInfo{
		Version: tlsVersionName(state.Version),
		Cipher:  tls.CipherSuiteName(state.CipherSuite),
	}

	return probeResult{matched: true, confidence: 0.95, service: "https", tls: info}
}

func tlsVersionName(v uint16) string {
	switch v {
	case tls.VersionTLS13:
		return "TLS1.3"
	case tls.VersionTLS12:
		return "TLS1.2"
	case tls.VersionTLS11:
		return "TLS1.1"
	case tls.VersionTLS10:
		return "TLS1.0"
	default:
		return "unknown"
	}
}

// probeSSH passively reads the server's identification banner.
func probeSSH(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	line, err := readLine(conn, deadline)
	if err != nil && line == "" {
		return probeResult{transient: true}
	}

	m := sshBannerRe.FindStringSubmatch(line)
	if m == nil {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.97, service: "ssh", version: m[1], banner: truncateBanner(line)}
}

// probeFTP passively reads the server's greeting banner.
func probeFTP(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	line, err := readLine(conn, deadline)
	if err != nil && line == "" {
		return probeResult{transient: true}
	}

	if !strings.HasPrefix(line, "220") {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.9, service: "ftp", banner: truncateBanner(line)}
}

// probeSMTP reads the greeting, then sends EHLO and checks for a 250
// reply, per spec.md §4.5's SMTP row.
func probeSMTP(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	greeting, err := readLine(conn, deadline)
	if err != nil && greeting == "" {
		return probeResult{transient: true}
	}
	if !strings.HasPrefix(greeting, "220") {
		return probeResult{}
	}

	_ = conn.SetWriteDeadline(deadline)
	if _, err := conn.Write([]byte("EHLO localhost\r\n")); err != nil {
		return probeResult{transient: true}
	}

	reply, err := readLine(conn, deadline)
	if err != nil && reply == "" {
		return probeResult{transient: true}
	}
	if !strings.HasPrefix(reply, "250") {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.95, service: "smtp", banner: truncateBanner(greeting)}
}

// probeMySQL passively reads the initial handshake/greeting packet:
// a 3-byte little-endian length, a sequence byte, then a protocol
// version byte (historically 0x0a).
func probeMySQL(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)

	head := make([]byte, 5)
	if _, err := readFull(conn, head); err != nil {
		return probeResult{transient: true}
	}

	length := int(head[0]) | int(head[1])<<8 | int(head[2])<<16
	protocolVersion := head[4]
	if length <= 0 || length > 1<<20 {
		return probeResult{}
	}
	if protocolVersion != 0x0a && protocolVersion != 0x09 {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.92, service: "mysql"}
}

// probePostgreSQL sends a StartupMessage and checks for an
// AuthenticationRequest ('R') or ErrorResponse ('E') frame.
func probePostgreSQL(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	msg := buildPostgresStartup()
	if _, err := conn.Write(msg); err != nil {
		return probeResult{transient: true}
	}

	head := make([]byte, 1)
	if _, err := readFull(conn, head); err != nil {
		return probeResult{transient: true}
	}

	if head[0] != 'R' && head[0] != 'E' {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.93, service: "postgresql"}
}

func buildPostgresStartup() []byte {
	const protocolVersion = 0x00030000
	params := []byte("user\x00reconscan\x00\x00")
	length := 4 + 4 + len(params)

	buf := make([]byte, 0, length)
	buf = append(buf, byte(length>>24), byte(length>>16), byte(length>>8), byte(length))
	buf = append(buf, byte(protocolVersion>>24), byte(protocolVersion>>16), byte(protocolVersion>>8), byte(protocolVersion))
	buf = append(buf, params...)
	return buf
}

// probeRedis sends a PING and checks for a +PONG simple-string reply.
func probeRedis(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("PING\r\n")); err != nil {
		return probeResult{transient: true}
	}

	line, err := readLine(conn, deadline)
	if err != nil && line == "" {
		return probeResult{transient: true}
	}

	if !strings.HasPrefix(line, "+PONG") {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.96, service: "redis", banner: truncateBanner(line)}
}

// probeMongoDB sends a minimal isMaster OP_QUERY and checks that the
// reply has a valid 4-byte length prefix followed by BSON that begins
// with a plausible document-length field.
func probeMongoDB(ctx context.Context, dialer prober.Dialer, ip string, port int) probeResult {
	conn, err := dial(ctx, dialer, ip, port)
	if err != nil {
		return probeResult{transient: true}
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write(buildMongoIsMaster()); err != nil {
		return probeResult{transient: true}
	}

	head := make([]byte, 4)
	if _, err := readFull(conn, head); err != nil {
		return probeResult{transient: true}
	}
	totalLen := int(head[0]) | int(head[1])<<8 | int(head[2])<<16 | int(head[3])<<24
	if totalLen <= 16 || totalLen > 48*1024*1024 {
		return probeResult{}
	}

	// Header (16) + OP_REPLY fields (20) precede the first document,
	// whose own length is the 4 bytes at message offset 36.
	rest := make([]byte, 36)
	if _, err := readFull(conn, rest); err != nil {
		return probeResult{transient: true}
	}
	docLen := int(rest[32]) | int(rest[33])<<8 | int(rest[34])<<16 | int(rest[35])<<24
	if docLen < 5 || 36+docLen > totalLen {
		return probeResult{}
	}

	return probeResult{matched: true, confidence: 0.9, service: "mongodb"}
}

func buildMongoIsMaster() []byte {
	query := []byte("admin.$cmd\x00")
	doc := []byte{0x16, 0x00, 0x00, 0x00, 0x10, 'i', 's', 'M', 'a', 's', 't', 'e', 'r', 0x00, 0x01, 0x00, 0x00, 0x00, 0x00}
	body := make([]byte, 0, 20+len(query)+len(doc))
	body = append(body, 0, 0, 0, 0) // flags
	body = append(body, query...)
	body = append(body, 0, 0, 0, 0) // numberToSkip
	body = append(body, 1, 0, 0, 0) // numberToReturn
	body = append(body, doc...)

	const opQuery = 2004
	header := make([]byte, 16)
	total := 16 + len(body)
	header[0], header[1], header[2], header[3] = byte(total), byte(total>>8), byte(total>>16), byte(total>>24)
	header[12], header[13], header[14], header[15] = byte(opQuery), byte(opQuery>>8), byte(opQuery>>16), byte(opQuery>>24)

	return append(header, body...)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
