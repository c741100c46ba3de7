package security

import "testing"

func TestValidateEndpointURL(t *testing.T) {
	valid := []string{
		"https://tools.example.com/summarize",
		"https://api.example.com:8443/v2",
		"http://93.184.216.34/run",
	}
	for _, u := range valid {
		if err := ValidateEndpointURL(u); err != nil {
			t.Errorf("ValidateEndpointURL(%q) = %v, want nil", u, err)
		}
	}

	invalid := []string{
		"not a url at all ://",
		"ftp://files.example.com",
		"https://",
		"https://localhost/run",
		"https://metadata.google.internal/token",
		"https://127.0.0.1/run",
		"https://10.0.0.5/run",
		"https://192.168.1.10:9000/run",
		"https://169.254.169.254/latest",
		"https://0.0.0.0/run",
		"https://[::1]/run",
	}
	for _, u := range invalid {
		if err := ValidateEndpointURL(u); err == nil {
			t.Errorf("ValidateEndpointURL(%q) = nil, want error", u)
		}
	}
}
