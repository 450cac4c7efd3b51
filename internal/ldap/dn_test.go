package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDNSyntax(t *testing.T) {
	tests := []struct {
		name    string
		dn      string
		wantErr bool
	}{
		{name: "simple", dn: "dc=example,dc=com"},
		{name: "multi-valued RDN", dn: "cn=John+sn=Doe,ou=people,dc=example,dc=com"},
		{name: "escaped comma", dn: `cn=Doe\, John,ou=people,dc=example,dc=com`},
		{name: "empty", dn: "", wantErr: true},
		{name: "whitespace", dn: "   ", wantErr: true},
		{name: "missing value separator", dn: "dc=example,dccom", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDNSyntax(tt.dn)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
