package httpsig

import (
	"fmt"
	"net/url"
	"strings"
)

// requiredComponents is the set of covered components this profile demands trust
// from. Additional components may be present but contribute nothing.
var requiredComponents = []string{"payment-signature", "signature-agent", "@authority"}

// BuildSignatureBase reconstructs the byte-exact signature base for the
// Web-Bot-Auth profile: one line per required component, in the fixed order below,
// joined by "\n" with no trailing newline.
//
//	"payment-signature": <exact bytes of PAYMENT-SIGNATURE header>
//	"signature-agent": <exact bytes of Signature-Agent header, including quotes>
//	"@authority": <URL host[:port]>
//	"@signature-params": <substring from '(' of Signature-Input through its end>
func BuildSignatureBase(paymentSignatureHeader, signatureAgentHeader, authority, rawParamsBlock string) []byte {
	lines := []string{
		fmt.Sprintf(`"payment-signature": %s`, paymentSignatureHeader),
		fmt.Sprintf(`"signature-agent": %s`, signatureAgentHeader),
		fmt.Sprintf(`"@authority": %s`, authority),
		fmt.Sprintf(`"@signature-params": %s`, rawParamsBlock),
	}
	return []byte(strings.Join(lines, "\n"))
}

// Authority extracts the "@authority" derived component (host[:port]) from a full URL.
func Authority(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing resource url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("resource url %q has no host", rawURL)
	}
	return u.Host, nil
}

// checkComponents verifies the parsed components list contains every component this
// profile requires trust from (order-independent, extras tolerated).
func checkComponents(components []string) error {
	have := make(map[string]bool, len(components))
	for _, c := range components {
		have[c] = true
	}
	for _, required := range requiredComponents {
		if !have[required] {
			return fmt.Errorf("missing_component_%s", required)
		}
	}
	return nil
}
