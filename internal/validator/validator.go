package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-engine/internal/model"
)

var (
	once     sync.Once
	validate *govalidator.Validate
	trans    ut.Translator
)

// engine lazily builds the singleton validator with English translations
// and the assessment-level rules.
func engine() *govalidator.Validate {
	once.Do(func() {
		validate = govalidator.New(govalidator.WithRequiredStructEnabled())

		// Use JSON tag name for field names in error messages.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		enLocale := en.New()
		uni := ut.New(enLocale, enLocale)
		trans, _ = uni.GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(validate, trans)

		validate.RegisterStructValidation(assessmentRules, model.Assessment{})
		validate.RegisterStructValidation(objectiveRules, model.ObjectiveQuestion{})
		validate.RegisterStructValidation(theoryRules, model.TheoryQuestion{})
	})
	return validate
}

func assessmentRules(sl govalidator.StructLevel) {
	a := sl.Current().Interface().(model.Assessment)
	switch a.Type {
	case model.QuestionTypeObjective:
		if len(a.Theory) > 0 {
			sl.ReportError(a.Theory, "theory_questions", "Theory", "excluded_objective", "")
		}
	case model.QuestionTypeTheory:
		if len(a.Objective) > 0 {
			sl.ReportError(a.Objective, "objective_questions", "Objective", "excluded_theory", "")
		}
	}
	if a.Kind == model.AssessmentKindExam && a.DurationMinutes < 1 {
		sl.ReportError(a.DurationMinutes, "duration_minutes", "DurationMinutes", "exam_duration", "")
	}
	if a.StartTime != nil && a.EndTime != nil && a.EndTime.Before(*a.StartTime) {
		sl.ReportError(a.EndTime, "end_time", "EndTime", "gtfield", "start_time")
	}
	if a.Kind == model.AssessmentKindAssignment && a.DueDate == nil {
		sl.ReportError(a.DueDate, "due_date", "DueDate", "required", "")
	}
	if a.Kind == model.AssessmentKindAssignment && a.RetakePolicy != nil {
		sl.ReportError(a.RetakePolicy, "retake_policy", "RetakePolicy", "exam_only", "")
	}
}

func objectiveRules(sl govalidator.StructLevel) {
	q := sl.Current().Interface().(model.ObjectiveQuestion)
	if q.CorrectOption >= len(q.Options) {
		sl.ReportError(q.CorrectOption, "correct_option", "CorrectOption", "option_range", "")
	}
}

func theoryRules(sl govalidator.StructLevel) {
	q := sl.Current().Interface().(model.TheoryQuestion)
	if !q.RubricConsistent() {
		sl.ReportError(q.Marks, "marks", "Marks", "rubric_total", fmt.Sprint(model.RubricTotal(q.Rubric)))
	}
}

// customMessages covers the rule tags that have no stock translation.
var customMessages = map[string]string{
	"excluded_objective": "must be empty for an objective assessment",
	"excluded_theory":    "must be empty for a theory assessment",
	"exam_duration":      "must be at least 1 minute for an exam",
	"exam_only":          "is only allowed on exams",
	"option_range":       "must index one of the options",
	"rubric_total":       "must equal the rubric total",
}

// TranslateErrors takes a validation error and returns a map of field name →
// human-readable error message. If the error is not a validation error, it
// returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	engine()
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			key := strings.TrimPrefix(fe.Namespace(), "Assessment.")
			if msg, ok := customMessages[fe.Tag()]; ok {
				fields[key] = fe.Field() + " " + msg
				continue
			}
			fields[key] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Struct validates v and returns a translated field error map, or nil.
func Struct(v interface{}) map[string]string {
	if err := engine().Struct(v); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
