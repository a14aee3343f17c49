package provision

import (
	"net/mail"
	"strings"
)

// folderNameSeparator joins the employee name and email in the leaf folder
// name. The en-dash form is canonical; ParseFolderName also accepts a
// plain hyphen for folders created by older tooling.
const (
	folderNameSeparator       = " – "
	legacyFolderNameSeparator = " - "
)

// FolderName builds the canonical leaf folder name for an employee.
func FolderName(employeeName, employeeEmail string) string {
	name := strings.TrimSpace(employeeName)
	if name == "" {
		return employeeEmail
	}

	return name + folderNameSeparator + employeeEmail
}

// ParseFolderName extracts the employee name and email from a folder name
// following the naming convention. ok is false when no valid email can be
// extracted — such folders are ignored by orphan recovery.
func ParseFolderName(folderName string) (employeeName, employeeEmail string, ok bool) {
	name, email := splitFolderName(folderName)
	if email == "" {
		return "", "", false
	}

	if _, err := mail.ParseAddress(email); err != nil {
		return "", "", false
	}

	return name, strings.ToLower(email), true
}

func splitFolderName(folderName string) (string, string) {
	for _, sep := range []string{folderNameSeparator, legacyFolderNameSeparator} {
		if idx := strings.LastIndex(folderName, sep); idx >= 0 {
			return strings.TrimSpace(folderName[:idx]), strings.TrimSpace(folderName[idx+len(sep):])
		}
	}

	// A bare-email folder name is also valid (employees without a name).
	trimmed := strings.TrimSpace(folderName)
	if strings.Contains(trimmed, "@") && !strings.ContainsAny(trimmed, " ") {
		return "", trimmed
	}

	return "", ""
}
