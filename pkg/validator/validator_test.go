package validator

import "testing"

func TestValidateRegister(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		username string
		display  string
		password string
		badField string
	}{
		{"valid", "ana@example.com", "ana", "Ana", "Passw0rd", ""},
		{"bad email", "not-an-email", "ana", "Ana", "Passw0rd", "email"},
		{"short username", "ana@example.com", "an", "Ana", "Passw0rd", "username"},
		{"username chars", "ana@example.com", "ana!", "Ana", "Passw0rd", "username"},
		{"missing display", "ana@example.com", "ana", "", "Passw0rd", "display_name"},
		{"weak password", "ana@example.com", "ana", "Ana", "password", "password"},
		{"short password", "ana@example.com", "ana", "Ana", "Pw0", "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidateRegister(tt.email, tt.username, tt.display, tt.password)
			if tt.badField == "" {
				if errs.HasErrors() {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if _, ok := errs[tt.badField]; !ok {
				t.Fatalf("expected error on %q, got %v", tt.badField, errs)
			}
		})
	}
}

func TestValidateMessage(t *testing.T) {
	if errs := ValidateMessage("", false); !errs.HasErrors() {
		t.Fatal("empty message without image must fail")
	}
	if errs := ValidateMessage("   ", false); !errs.HasErrors() {
		t.Fatal("whitespace-only message without image must fail")
	}
	if errs := ValidateMessage("", true); errs.HasErrors() {
		t.Fatalf("image-only message must pass, got %v", errs)
	}
	if errs := ValidateMessage("hi", false); errs.HasErrors() {
		t.Fatalf("text message must pass, got %v", errs)
	}
}

func TestValidateUpload(t *testing.T) {
	if errs := ValidateUpload("image/png", 1024); errs.HasErrors() {
		t.Fatalf("valid image must pass, got %v", errs)
	}
	if errs := ValidateUpload("application/pdf", 1024); !errs.HasErrors() {
		t.Fatal("non-image must fail")
	}
	if errs := ValidateUpload("image/png", 6*1024*1024); !errs.HasErrors() {
		t.Fatal("oversized image must fail")
	}
	if errs := ValidateUpload("image/png", 0); !errs.HasErrors() {
		t.Fatal("empty file must fail")
	}
}

func TestValidateGroupName(t *testing.T) {
	if errs := ValidateGroupName("builders"); errs.HasErrors() {
		t.Fatalf("valid name must pass, got %v", errs)
	}
	if errs := ValidateGroupName(" "); !errs.HasErrors() {
		t.Fatal("blank name must fail")
	}
}
