package codesign

import (
	"go.mozilla.org/pkcs7"
)

// CMS summarizes the PKCS#7 SignedData wrapper carrying the certificate
// chain.
type CMS struct {
	Certificates []string `json:"certificates"`
	SignerCN     string   `json:"signer_cn,omitempty"`
	SignerTeamID string   `json:"signer_team_id,omitempty"`
}

// parseCMS extracts subject summaries for every certificate embedded in the
// CMS wrapper (blob header already stripped). A wrapper that does not parse
// yields an empty certificate list rather than an error; unsigned (ad-hoc)
// binaries routinely carry an empty wrapper.
func parseCMS(payload []byte) *CMS {
	info := &CMS{Certificates: []string{}}

	p7, err := pkcs7.Parse(payload)
	if err != nil {
		return info
	}

	for _, cert := range p7.Certificates {
		summary := cert.Subject.CommonName
		if summary == "" {
			summary = cert.Subject.String()
		}
		info.Certificates = append(info.Certificates, summary)
	}

	if len(p7.Signers) > 0 {
		signer := p7.Signers[0]
		for _, cert := range p7.Certificates {
			if cert.SerialNumber.Cmp(signer.IssuerAndSerialNumber.SerialNumber) != 0 {
				continue
			}
			info.SignerCN = cert.Subject.CommonName
			for _, ou := range cert.Subject.OrganizationalUnit {
				if len(ou) == 10 && isAlphanumeric(ou) {
					info.SignerTeamID = ou
					break
				}
			}
			break
		}
	}

	return info
}

// isAlphanumeric reports whether s contains only uppercase letters and
// digits, the alphabet of Apple team identifiers.
func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
