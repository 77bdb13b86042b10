package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"courseetl/internal/platform"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path uses the settings file key names,
// e.g. "store.kind".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field rules and the cross-field rules between sections.
// Issues are returned in a stable order: field rules first, then sections in
// declaration order.
func Validate(c Config) []Issue {
	var issues []Issue

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if ok := asValidationErrors(err, &verrs); !ok {
			return []Issue{{SeverityError, "config", err.Error()}}
		}
		for _, fe := range verrs {
			issues = append(issues, Issue{SeverityError, fieldPath(fe.Namespace()), message(fe)})
		}
	}

	errorf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, a...)})
	}

	// store
	switch {
	case c.Store.DSN != "":
	case c.Store.Kind == "sqlite":
		if c.Store.Database == "" {
			errorf("store.database", "sqlite needs a database file path or store.dsn")
		}
	default:
		if c.Store.Host == "" {
			errorf("store.host", "is required unless store.dsn is set")
		}
		if c.Store.User == "" {
			warnf("store.user", "is empty; the driver default user will be used")
		}
	}

	// paths
	if within(c.Paths.CourseExportRoot, c.Paths.CSVRoot) {
		errorf("paths.csv_root", "must not be inside paths.course_export_root; the course archive would bundle the datasets")
	}

	// platform
	for _, p := range []string{platform.PlaceholderCourseID, platform.PlaceholderOutput} {
		if c.Platform.ExportArgs != "" && !strings.Contains(c.Platform.ExportArgs, p) {
			errorf("platform.export_args", "must contain %s", p)
		}
	}
	if c.Platform.ExportTimeout == 0 {
		warnf("platform.export_timeout", "is 0; a hung export blocks the run")
	}

	// metrics
	if c.Metrics.Backend == "pushgateway" && c.Metrics.PushgatewayURL == "" {
		errorf("metrics.pushgateway_url", "is required for the pushgateway backend")
	}

	// run
	if _, err := c.Location(); err != nil {
		errorf("run.timezone", "unknown time zone %q", c.Run.Timezone)
	}

	return issues
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}

// fieldPath turns "Config.store.kind" into "store.kind".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "url":
		return "must be an absolute URL"
	case "gte":
		return "must be >= " + fe.Param()
	case "lte":
		return "must be <= " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// within reports whether dir is root or lies below it.
func within(root, dir string) bool {
	if root == "" || dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(dir))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
