package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/vinodismyname/leadfunnel/pkg/pagination"
)

var (
	instance *validator.Validate
	once     sync.Once

	cellRe = regexp.MustCompile(`^\$?[A-Za-z]{1,3}\$?[0-9]{1,7}$`)
	nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]{0,254}$`)

	workbookExts = []string{".xlsx", ".xlsm"}
)

// rules are the custom tags tool inputs may use next to the validator built-ins.
var rules = map[string]validator.Func{
	"filepath_ext": func(fl validator.FieldLevel) bool {
		return slices.Contains(workbookExts, strings.ToLower(filepath.Ext(strings.TrimSpace(fl.Field().String()))))
	},
	"a1orname": func(fl validator.FieldLevel) bool {
		return IsRange(fl.Field().String())
	},
	"cursor": func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return true
		}
		_, err := pagination.DecodeCursor(s)
		return err == nil
	},
	"dimension": func(fl validator.FieldLevel) bool {
		return IsDimension(fl.Field().String())
	},
	"isodate": func(fl validator.FieldLevel) bool {
		s := strings.TrimSpace(fl.Field().String())
		if s == "" {
			return true
		}
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	},
}

// messages render the first failing tag of a struct; %s is the lower-cased field name.
var messages = map[string]string{
	"required":     "VALIDATION: %s is required",
	"filepath_ext": "VALIDATION: %s must be an Excel workbook (.xlsx, .xlsm)",
	"a1orname":     "VALIDATION: %s must be an A1 range like A1:H200 or a defined name",
	"cursor":       "CURSOR_INVALID: %s could not be decoded; restart paging from the first page",
	"dimension":    "VALIDATION: %s must name a column or derived attribute (no '|')",
	"isodate":      "VALIDATION: %s must be a date like 2019-01-31",
}

// Validator returns the shared validator with the custom rules registered.
func Validator() *validator.Validate {
	once.Do(func() {
		instance = validator.New()
		for tag, fn := range rules {
			if err := instance.RegisterValidation(tag, fn); err != nil {
				panic(fmt.Sprintf("validation: register %s: %v", tag, err))
			}
		}
	})
	return instance
}

// IsRange accepts "A1:H200" (optionally with $ anchors) or a defined name.
func IsRange(s string) bool {
	s = strings.TrimSpace(s)
	if from, to, ok := strings.Cut(s, ":"); ok {
		return cellRe.MatchString(from) && cellRe.MatchString(to)
	}
	return nameRe.MatchString(s) && !cellRe.MatchString(s)
}

// IsDimension reports whether s is usable as a segment dimension name.
func IsDimension(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 128 || strings.Contains(s, "|") {
		return false
	}
	return !strings.ContainsFunc(s, func(r rune) bool { return !unicode.IsPrint(r) })
}

// ValidateStruct validates s and returns a "CODE: message" string for the first failing
// field, or "" when s is valid.
func ValidateStruct(s any) string {
	err := Validator().Struct(s)
	if err == nil {
		return ""
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return "VALIDATION: invalid inputs"
	}
	fe := ve[0]
	field := strings.ToLower(fe.Field())
	if msg, ok := messages[fe.Tag()]; ok {
		return fmt.Sprintf(msg, field)
	}
	switch fe.Tag() {
	case "required_without":
		return fmt.Sprintf("VALIDATION: %s is required (or supply %s)", field, strings.ToLower(fe.Param()))
	case "oneof":
		return fmt.Sprintf("VALIDATION: %s must be one of [%s]", field, fe.Param())
	case "min", "max", "gte", "lte":
		return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("VALIDATION: invalid %s", field)
}
