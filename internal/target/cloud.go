package target

import "net"

// CloudProvider names the inferred hosting provider for a public IP.
// Adapted from the teacher's scanner/cloud.go CloudDetector, which
// originally classified discovered hosts for asset-inventory
// enrichment; here it only annotates Target.Cloud and never affects
// acceptance/rejection.
type CloudProvider string

const (
	CloudAWS     CloudProvider = "aws"
	CloudAzure   CloudProvider = "azure"
	CloudGCP     CloudProvider = "gcp"
	CloudOther   CloudProvider = "other"
	CloudNone    CloudProvider = "none"
	CloudUnknown CloudProvider = "unknown"
)

// HostingModel is the coarse cloud/on-prem inference derived
// from CloudProvider.
type HostingModel string

const (
	HostingCloud      HostingModel = "cloud"
	HostingOnPremises HostingModel = "on_premises"
	HostingUnknown    HostingModel = "unknown"
)

// CloudDetectionResult is the informational cloud-hosting hint attached
// to a resolved Target.
type CloudDetectionResult struct {
	Provider     CloudProvider
	HostingModel HostingModel
	Confidence   float64
}

// CloudDetector matches IPs against static cloud-provider CIDR tables.
type CloudDetector struct {
	awsNets   []*net.IPNet
	azureNets []*net.IPNet
	gcpNets   []*net.IPNet
}

// NewCloudDetector loads the fallback CIDR tables. There is no
// runtime mutation path; the tables are compiled-in static data, per
// the teacher's immutable-static-data idiom.
func NewCloudDetector() *CloudDetector {
	cd := &CloudDetector{}
	cd.load()
	return cd
}

func (cd *CloudDetector) load() {
	awsCIDRs := []string{
		"3.0.0.0/8", "13.32.0.0/14", "18.0.0.0/8", "34.192.0.0/10",
		"35.156.0.0/14", "52.0.0.0/10", "54.0.0.0/8", "99.77.0.0/16",
		"100.20.0.0/14", "107.20.0.0/14", "174.129.0.0/16", "176.32.96.0/19",
	}
	azureCIDRs := []string{
		"13.64.0.0/11", "20.0.0.0/8", "40.64.0.0/10", "51.104.0.0/14",
		"52.224.0.0/11", "65.52.0.0/14", "70.37.0.0/16", "104.40.0.0/13",
		"137.116.0.0/14", "168.61.0.0/16", "191.232.0.0/14",
	}
	gcpCIDRs := []string{
		"8.34.208.0/20", "34.64.0.0/10", "35.184.0.0/13", "35.192.0.0/12",
		"35.208.0.0/12", "35.224.0.0/12", "35.240.0.0/13", "104.196.0.0/14",
		"107.167.160.0/19", "108.59.80.0/20", "130.211.0.0/16", "146.148.0.0/17",
	}

	cd.awsNets = parseCIDRs(awsCIDRs)
	cd.azureNets = parseCIDRs(azureCIDRs)
	cd.gcpNets = parseCIDRs(gcpCIDRs)
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			nets = append(nets, ipnet)
		}
	}
	return nets
}

// Detect classifies a single resolved IP.
func (cd *CloudDetector) Detect(ipStr string) CloudDetectionResult {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return CloudDetectionResult{Provider: CloudUnknown, HostingModel: HostingUnknown}
	}

	if isPrivateIP(ip) {
		return CloudDetectionResult{Provider: CloudNone, HostingModel: HostingOnPremises, Confidence: 0.9}
	}

	if provider := cd.matchProvider(ip); provider != CloudNone {
		return CloudDetectionResult{Provider: provider, HostingModel: HostingCloud, Confidence: 0.85}
	}

	return CloudDetectionResult{Provider: CloudOther, HostingModel: HostingUnknown, Confidence: 0.5}
}

func (cd *CloudDetector) matchProvider(ip net.IP) CloudProvider {
	for _, ipnet := range cd.awsNets {
		if ipnet.Contains(ip) {
			return CloudAWS
		}
	}
	for _, ipnet := range cd.azureNets {
		if ipnet.Contains(ip) {
			return CloudAzure
		}
	}
	for _, ipnet := range cd.gcpNets {
		if ipnet.Contains(ip) {
			return CloudGCP
		}
	}
	return CloudNone
}
