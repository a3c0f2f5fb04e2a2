package submission

import (
	"fmt"
	"regexp"
	"time"

	"github.com/proposehq/formbff/internal/rules"
	"github.com/proposehq/formbff/model"
)

// dateLayout is the wire format for date field values.
const dateLayout = "2006-01-02"

// CheckInput validates submitted values against the configuration's fields.
// Hidden fields (conditions false under the submitted values) are skipped
// entirely: the renderer never showed them, so their rules don't apply.
func CheckInput(eval rules.Evaluator, cfg *model.ModalConfig, values map[string]any) []model.FieldError {
	var errs []model.FieldError

	for _, f := range cfg.Fields {
		if !eval.Evaluate(f.Conditions, values) {
			continue
		}

		val, present := values[f.ID]
		if f.Required && isBlank(val) {
			errs = append(errs, fieldErr(f, "REQUIRED", fmt.Sprintf("%s is required", fieldLabel(f))))
			continue
		}
		if !present || isBlank(val) {
			continue
		}

		errs = append(errs, checkRules(f, val)...)
	}

	return errs
}

func checkRules(f model.Field, val any) []model.FieldError {
	v := f.Validation
	if v.Empty() {
		return nil
	}

	var errs []model.FieldError

	if s, ok := val.(string); ok {
		if v.MinLength != nil && len([]rune(s)) < *v.MinLength {
			errs = append(errs, ruleErr(f, "MIN_LENGTH",
				fmt.Sprintf("%s must be at least %d characters", fieldLabel(f), *v.MinLength)))
		}
		if v.MaxLength != nil && len([]rune(s)) > *v.MaxLength {
			errs = append(errs, ruleErr(f, "MAX_LENGTH",
				fmt.Sprintf("%s must be at most %d characters", fieldLabel(f), *v.MaxLength)))
		}
		if v.Pattern != "" {
			// A broken pattern is a config defect, not the submitter's;
			// it never blocks input.
			if re, err := regexp.Compile(v.Pattern); err == nil && !re.MatchString(s) {
				errs = append(errs, ruleErr(f, "PATTERN",
					fmt.Sprintf("%s has an invalid format", fieldLabel(f))))
			}
		}
	}

	if f.Type == model.FieldNumber {
		if n, ok := toFloat(val); ok {
			if v.Min != nil && n < *v.Min {
				errs = append(errs, ruleErr(f, "MIN",
					fmt.Sprintf("%s must be at least %v", fieldLabel(f), *v.Min)))
			}
			if v.Max != nil && n > *v.Max {
				errs = append(errs, ruleErr(f, "MAX",
					fmt.Sprintf("%s must be at most %v", fieldLabel(f), *v.Max)))
			}
		} else {
			errs = append(errs, ruleErr(f, "NOT_A_NUMBER",
				fmt.Sprintf("%s must be a number", fieldLabel(f))))
		}
	}

	if f.Type == model.FieldDate {
		if s, ok := val.(string); ok {
			d, err := time.Parse(dateLayout, s)
			if err != nil {
				errs = append(errs, ruleErr(f, "INVALID_DATE",
					fmt.Sprintf("%s must be a date in YYYY-MM-DD form", fieldLabel(f))))
			} else {
				if v.MinDate != "" {
					if lo, perr := time.Parse(dateLayout, v.MinDate); perr == nil && d.Before(lo) {
						errs = append(errs, ruleErr(f, "MIN_DATE",
							fmt.Sprintf("%s must be on or after %s", fieldLabel(f), v.MinDate)))
					}
				}
				if v.MaxDate != "" {
					if hi, perr := time.Parse(dateLayout, v.MaxDate); perr == nil && d.After(hi) {
						errs = append(errs, ruleErr(f, "MAX_DATE",
							fmt.Sprintf("%s must be on or before %s", fieldLabel(f), v.MaxDate)))
					}
				}
			}
		}
	}

	return errs
}

// isBlank mirrors what an untouched input submits: nil, the empty string,
// an unchecked checkbox, or an empty list.
func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case bool:
		return !t
	case []any:
		return len(t) == 0
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func fieldLabel(f model.Field) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}

func fieldErr(f model.Field, code, msg string) model.FieldError {
	return model.FieldError{Field: f.ID, Code: code, Message: msg}
}

// ruleErr applies the config's message override when one is set.
func ruleErr(f model.Field, code, msg string) model.FieldError {
	if f.Validation != nil && f.Validation.ErrorMessage != "" {
		msg = f.Validation.ErrorMessage
	}
	return model.FieldError{Field: f.ID, Code: code, Message: msg}
}
