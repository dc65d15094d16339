package coolfhir

import "net/url"

// FhirUrlLoggerSanitizer is a URL logger sanitizer that masks all query parameters except _include.
func FhirUrlLoggerSanitizer(in *url.URL) *url.URL {
	return maskQuery(in, "_include")
}

// LaunchUrlLoggerSanitizer masks the launch ID in SMART app launch URLs, since it grants access to the launch context.
func LaunchUrlLoggerSanitizer(in *url.URL) *url.URL {
	return maskQuery(in, "iss")
}

func maskQuery(in *url.URL, keep ...string) *url.URL {
	result := *in
	q := url.Values{}
	for name, values := range in.Query() {
		for _, value := range values {
			masked := "****"
			for _, k := range keep {
				if k == name {
					masked = value
				}
			}
			q.Add(name, masked)
		}
	}
	result.RawQuery = q.Encode()
	return &result
}
