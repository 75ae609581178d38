package detector

// fallbackTable is the static port→service map consulted when active
// probing is disabled or every active probe fails, per spec.md §4.5's
// fallback mode. Adapted from the teacher's Fingerprinter.identifyByPort.
var fallbackTable = map[int]string{
	21:    "ftp",
	22:    "ssh",
	23:    "telnet",
	25:    "smtp",
	53:    "dns",
	80:    "http",
	110:   "pop3",
	143:   "imap",
	443:   "https",
	445:   "smb",
	465:   "smtps",
	587:   "smtp-submission",
	993:   "imaps",
	995:   "pop3s",
	1433:  "mssql",
	1521:  "oracle",
	3306:  "mysql",
	3389:  "rdp",
	5432:  "postgresql",
	5672:  "amqp",
	6379:  "redis",
	8080:  "http",
	8443:  "https",
	9200:  "elasticsearch",
	9300:  "elasticsearch-transport",
	11211: "memcached",
	15672: "rabbitmq-management",
	27017: "mongodb",
}

// fallbackResult builds a low-confidence PortResult from the static
// port table alone.
func fallbackResult(port int) PortResult {
	service, ok := fallbackTable[port]
	if !ok {
		service = "unknown"
	}
	return PortResult{Service: service, Confidence: fallbackConfidence}
}
