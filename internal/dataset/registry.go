package dataset

// Spec describes one extracted table: a query bound to the single named
// parameter :course_id, and the column order of both the header and every row.
type Spec struct {
	Name    string
	Query   string
	Columns []string
}

var registry = []Spec{
	{
		Name: "users",
		Query: "select auth_user.id, auth_user.username, auth_user.first_name, auth_user.last_name, " +
			"auth_user.email, auth_user.is_staff, auth_user.is_active, auth_user.is_superuser, " +
			"auth_user.last_login, auth_user.date_joined " +
			"from auth_user inner join student_courseenrollment " +
			"on student_courseenrollment.user_id = auth_user.id " +
			"and student_courseenrollment.course_id = :course_id",
		Columns: []string{"id", "username", "first_name", "last_name", "email",
			"is_staff", "is_active", "is_superuser", "last_login", "date_joined"},
	},
	{
		Name: "studentmodule",
		Query: "select id, module_type, module_id, student_id, state, grade, created, modified, " +
			"max_grade, done, course_id from courseware_studentmodule where course_id = :course_id",
		Columns: []string{"id", "module_type", "module_id", "student_id", "state", "grade",
			"created", "modified", "max_grade", "done", "course_id"},
	},
	{
		Name:    "enrollment",
		Query:   "select id, user_id, course_id, created, is_active, mode from student_courseenrollment where course_id = :course_id",
		Columns: []string{"id", "user_id", "course_id", "created", "is_active", "mode"},
	},
	{
		Name:    "role",
		Query:   "select id, user_id, org, course_id, role from student_courseaccessrole where course_id = :course_id",
		Columns: []string{"id", "user_id", "org", "course_id", "role"},
	},
}

// Registry returns the four datasets in extraction order. The returned slice
// is a copy; callers may not alter the shared definitions.
func Registry() []Spec {
	out := make([]Spec, len(registry))
	for i, s := range registry {
		s.Columns = append([]string(nil), s.Columns...)
		out[i] = s
	}
	return out
}
