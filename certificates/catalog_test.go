package certificates_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/certreq/certificates"
)

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []certificates.CertificateRecord
	}{
		{name: "absent", raw: "", want: nil},
		{name: "blank", raw: "  \n", want: nil},
		{name: "empty array", raw: "[]", want: []certificates.CertificateRecord{}},
		{name: "null", raw: "null", want: []certificates.CertificateRecord{}},
		{name: "not json", raw: "{{{", want: nil},
		{name: "object", raw: `{"certificate":"C"}`, want: nil},
		{
			name: "complete entry",
			raw:  `[{"certificate_signing_request":"CSR1","certificate":"CERT1","ca":"CA1","chain":["C1","C2"],"revoked":true}]`,
			want: []certificates.CertificateRecord{
				{CSR: "CSR1", Certificate: "CERT1", CA: "CA1", Chain: []string{"C1", "C2"}, Revoked: true},
			},
		},
		{
			name: "optional fields default",
			raw:  `[{"certificate_signing_request":" CSR1\n","certificate":"CERT1"}]`,
			want: []certificates.CertificateRecord{
				{CSR: "CSR1", Certificate: "CERT1", Chain: []string{}},
			},
		},
		{
			name: "null optional fields",
			raw:  `[{"certificate_signing_request":"CSR1","certificate":"CERT1","ca":null,"chain":null,"revoked":null}]`,
			want: []certificates.CertificateRecord{
				{CSR: "CSR1", Certificate: "CERT1", Chain: []string{}},
			},
		},
		{
			name: "malformed entries dropped individually",
			raw: `[
				{"ca":"CA","chain":["a"],"certificate":"NO-CSR"},
				{"certificate_signing_request":"NO-CERT"},
				{"certificate_signing_request":"", "certificate":"EMPTY-CSR"},
				{"certificate_signing_request":"EMPTY-CERT", "certificate":""},
				{"certificate_signing_request":42, "certificate":"NUMERIC-CSR"},
				{"certificate_signing_request":"BAD-CHAIN", "certificate":"C", "chain":"x"},
				{"certificate_signing_request":"BAD-REVOKED", "certificate":"C", "revoked":"yes"},
				{"certificate_signing_request":null, "certificate":"NULL-CSR"},
				"a string",
				17,
				null,
				{"certificate_signing_request":"GOOD","certificate":"CERT-GOOD","ca":"CA"}
			]`,
			want: []certificates.CertificateRecord{
				{CSR: "GOOD", Certificate: "CERT-GOOD", CA: "CA", Chain: []string{}},
			},
		},
		{
			name: "order preserved",
			raw: `[
				{"certificate_signing_request":"B","certificate":"CB"},
				{"certificate_signing_request":"A","certificate":"CA"}
			]`,
			want: []certificates.CertificateRecord{
				{CSR: "B", Certificate: "CB", Chain: []string{}},
				{CSR: "A", Certificate: "CA", Chain: []string{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := certificates.ParseCatalog(tt.raw)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
