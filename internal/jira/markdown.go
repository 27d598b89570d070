package jira

// Mention builds wiki-markup for a user reference in an issue or comment
// body. Resolved accounts become real mentions; unknown addresses fall back
// to a mailto link so the origin stays visible.
func Mention(user *User, email string) string {
	if user != nil && user.AccountID != "" {
		return "[~accountid:" + user.AccountID + "]"
	}
	if email == "" {
		return ""
	}
	return "[" + email + ";|mailto:" + email + "]"
}
