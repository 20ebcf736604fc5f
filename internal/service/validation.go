package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/model"
)

// Upload limits for instructor documents.
const (
	MaxDocuments     = 2
	MaxDocumentBytes = 2 << 20
	pdfMIME          = "application/pdf"
)

// nationalIDLength is the fixed length of the strict identifier (CURP).
const nationalIDLength = 18

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("validation failed")

var errDocumentTooLarge = errors.New("document too large")

// ValidationError carries one message per offending field.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func fieldError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// ProfileValidator checks registrant profiles.
type ProfileValidator struct {
	validate *validator.Validate
	domains  []string
	strictID bool
}

// NewProfileValidator builds a validator accepting emails from domains.
// An empty domain list accepts any domain. With strictID the national id
// must be exactly 18 characters.
func NewProfileValidator(domains []string, strictID bool) *ProfileValidator {
	pv := &ProfileValidator{validate: validator.New(validator.WithRequiredStructEnabled()), strictID: strictID}
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@")); d != "" {
			pv.domains = append(pv.domains, d)
		}
	}

	pv.validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = pv.validate.RegisterValidation("emaildomain", func(fl validator.FieldLevel) bool {
		return pv.allowedDomain(fl.Field().String())
	})
	_ = pv.validate.RegisterValidation("nationalid", func(fl validator.FieldLevel) bool {
		return !pv.strictID || utf8.RuneCountInString(fl.Field().String()) == nationalIDLength
	})
	return pv
}

// Normalize trims the profile and canonicalizes case-insensitive fields.
func Normalize(p model.RegistrantProfile) model.RegistrantProfile {
	p.Name = strings.Join(strings.Fields(p.Name), " ")
	p.NationalID = strings.ToUpper(strings.TrimSpace(p.NationalID))
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Gender = strings.ToUpper(strings.TrimSpace(p.Gender))
	p.Department = strings.TrimSpace(p.Department)
	return p
}

// Validate returns a *ValidationError describing every invalid field.
func (pv *ProfileValidator) Validate(p model.RegistrantProfile) error {
	err := pv.validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate profile: %w", err)
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields["profile."+fe.Field()] = pv.message(fe)
	}
	return &ValidationError{Fields: fields}
}

func (pv *ProfileValidator) message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "is not a valid email address"
	case "emaildomain":
		return "must belong to one of: " + strings.Join(pv.domains, ", ")
	case "nationalid":
		return fmt.Sprintf("must be exactly %d characters", nationalIDLength)
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func (pv *ProfileValidator) allowedDomain(email string) bool {
	if len(pv.domains) == 0 {
		return true
	}
	_, domain, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok {
		return false
	}
	for _, d := range pv.domains {
		if domain == d {
			return true
		}
	}
	return false
}

// ValidateDocuments decodes and checks instructor uploads. Each bad file gets
// its own message keyed by its position.
func ValidateDocuments(docs []model.Document) ([]model.StoredDocument, error) {
	if len(docs) > MaxDocuments {
		return nil, fieldError("instructor.documents", fmt.Sprintf("at most %d documents are accepted", MaxDocuments))
	}
	fields := make(map[string]string)
	stored := make([]model.StoredDocument, 0, len(docs))
	for i, doc := range docs {
		key := fmt.Sprintf("instructor.documents[%d]", i)
		name := strings.TrimSpace(doc.Name)
		if name == "" {
			name = fmt.Sprintf("document %d", i+1)
		}

		content, err := decodeDocument(doc.ContentBase64)
		switch {
		case errors.Is(err, errDocumentTooLarge), len(content) > MaxDocumentBytes:
			fields[key] = name + ": file exceeds the 2 MB limit"
			continue
		case err != nil:
			fields[key] = name + ": content is not valid base64"
			continue
		case len(content) == 0:
			fields[key] = name + ": file is empty"
			continue
		}
		if declared := strings.ToLower(strings.TrimSpace(doc.MIMEType)); declared != pdfMIME {
			fields[key] = name + ": only PDF files are accepted"
			continue
		}
		if !mimetype.Detect(content).Is(pdfMIME) {
			fields[key] = name + ": content is not a PDF document"
			continue
		}
		stored = append(stored, model.StoredDocument{Name: name, MIMEType: pdfMIME, Size: len(content), Content: content})
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return stored, nil
}

// decodeDocument accepts raw base64 or a data URL as produced by browsers.
func decodeDocument(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		if _, payload, ok := strings.Cut(encoded, ","); ok {
			encoded = payload
		}
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > MaxDocumentBytes+2 {
		return nil, errDocumentTooLarge
	}
	return base64.StdEncoding.DecodeString(encoded)
}
