package extract

import (
	"database/sql"
	"testing"

	_ "courseetl/internal/storage/sqlite"
)

// seedEdxapp creates the four source tables with two courses.
func seedEdxapp(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	stmts := []string{
		`CREATE TABLE auth_user (id INTEGER PRIMARY KEY, username TEXT, first_name TEXT, last_name TEXT,
			email TEXT, is_staff INTEGER, is_active INTEGER, is_superuser INTEGER, last_login TEXT, date_joined TEXT)`,
		`CREATE TABLE student_courseenrollment (id INTEGER PRIMARY KEY, user_id INTEGER, course_id TEXT,
			created TEXT, is_active INTEGER, mode TEXT)`,
		`CREATE TABLE courseware_studentmodule (id INTEGER PRIMARY KEY, module_type TEXT, module_id TEXT,
			student_id INTEGER, state TEXT, grade REAL, created TEXT, modified TEXT, max_grade REAL,
			done TEXT, course_id TEXT)`,
		`CREATE TABLE student_courseaccessrole (id INTEGER PRIMARY KEY, user_id INTEGER, org TEXT,
			course_id TEXT, role TEXT)`,

		`INSERT INTO auth_user VALUES
			(1, 'alice', 'Alice', 'A', 'alice@example.com', 0, 1, 0, NULL, '2023-01-01 10:00:00'),
			(2, 'bob', 'Bob', 'B', 'bob@example.com', 1, 1, 0, '2024-02-01 08:00:00', '2023-01-02 10:00:00')`,
		`INSERT INTO student_courseenrollment VALUES
			(1, 1, 'course-v1:MITx+6.002x+2024', '2024-01-05 00:00:00', 1, 'audit'),
			(2, 2, 'course-v1:MITx+6.002x+2024', '2024-01-06 00:00:00', 1, 'verified'),
			(3, 1, 'course-v1:MITx+8.01x+2024', '2024-01-07 00:00:00', 0, 'audit')`,
		`INSERT INTO courseware_studentmodule VALUES
			(1, 'problem', 'block-v1:MITx+6.002x+2024+type@problem+block@p1', 1, '{"position": 2, "done": true}',
				0.5, '2024-01-10 00:00:00', '2024-01-11 00:00:00', 1.0, 'na', 'course-v1:MITx+6.002x+2024'),
			(2, 'sequential', 'block-v1:MITx+8.01x+2024+type@sequential+block@s1', 1, NULL,
				NULL, '2024-01-10 00:00:00', '2024-01-10 00:00:00', NULL, 'na', 'course-v1:MITx+8.01x+2024')`,
		`INSERT INTO student_courseaccessrole VALUES (1, 2, 'MITx', 'course-v1:MITx+6.002x+2024', 'staff')`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			t.Fatalf("exec %q: %v", s, err)
		}
	}
}
