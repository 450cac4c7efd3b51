package ldap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// testCACert is a self-signed CA certificate used only in tests.
const testCACert = `-----BEGIN CERTIFICATE-----
MIIDBTCCAe2gAwIBAgIUF3pBeK7vWjkiOn5vkdviUpPSZDIwDQYJKoZIhvcNAQEL
BQAwEjEQMA4GA1UEAwwHVGVzdCBDQTAeFw0yNTEwMjQxNzM3NDNaFw0yNjEwMjQx
NzM3NDNaMBIxEDAOBgNVBAMMB1Rlc3QgQ0EwggEiMA0GCSqGSIb3DQEBAQUAA4IB
DwAwggEKAoIBAQDcyerW4aUDqSKC9QPHuL1wZadQqNOP97LwivFl0rnJ1TTUw8Xn
qX+V16tViOSuPq+tp4vxLDE4Sv0dJbXm35+7mb9xkmJFvIQaP8wQweza/k/GnkuM
pCM9voUpxC2wDnNSenw46L0eTdFPyXDTDRQR8vbS85OektHdsSgMwxubugS0CihD
WlIKYZnvpLPrvjBoplfS5Ff3gdse2d5K9qzl4Vs+KDyfxJegML9ATmPnXWLkyl13
3WjV/rjlQrxqtIJH+APUVyGBCNe+LtymOHeIy+FMX3JpKV1CLGyVoQ1sowzgm17D
wgErA2L6/quQpkNKNuoZSuDbFdJBiHyGWNsRAgMBAAGjUzBRMB0GA1UdDgQWBBRg
vCPlMaoj4A/WZxqd7kvtbfQpZTAfBgNVHSMEGDAWgBRgvCPlMaoj4A/WZxqd7kvt
bfQpZTAPBgNVHRMBAf8EBTADAQH/MA0GCSqGSIb3DQEBCwUAA4IBAQBFbrOXuzvE
pdNN/f64PpkJakfrWGXAR4xhZul+2lXgJQd0iq7mEOkWpPlOq8/UeDTlLfOSPcDw
FrQuODeDQeUmeglZvvmJIinOzFYf4wsxaJNqdQoF3bwY6UmUWlABDoRvVkWHFMwA
VpAD/4I2VNcE+Mqe03Lx0UO+xkZ74KzHrEwKpYcPP4J3K78S16NAlz3MaH4eLRWK
yVZWTBLVmuIFB5ITwdrdL92vdP6IQoXYOSrFDyhXkSoB+UxgaZwDji2wnYw3KZrm
aomYL4gPZz6Cnw2euSkQEY64gm/e1ueJDarBkzWUFUhmTMTJ/XRJpnhdu5FTqwKj
eNsm2nzlwhTR
-----END CERTIFICATE-----`

func TestBuildCertPool(t *testing.T) {
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(caFile, []byte(testCACert), 0o600); err != nil {
		t.Fatalf("Failed to write CA file: %v", err)
	}

	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "system only"},
		{name: "inline content", content: testCACert},
		{name: "file", file: caFile},
		{name: "invalid content", content: "this is not valid PEM content", wantErr: "invalid PEM format"},
		{name: "missing file", file: "/nonexistent/path/to/ca.pem", wantErr: "failed to read CA certificate file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := buildCertPool(tt.file, tt.content)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("buildCertPool() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildCertPool() failed: %v", err)
			}
			if pool == nil {
				t.Fatal("buildCertPool() returned nil pool")
			}
		})
	}
}
