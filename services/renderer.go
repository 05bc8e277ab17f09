package services

import (
	"regexp"
	"strings"

	"cadence/models"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_]+)\s*\}\}`)

// RenderTemplate substitutes lead attributes into a message template.
// Recognized placeholders with no value render empty; unknown placeholders
// are kept verbatim. A nil lead renders every recognized placeholder empty.
func RenderTemplate(template string, lead *models.Lead) string {
	if template == "" {
		return ""
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := strings.ToLower(placeholderPattern.FindStringSubmatch(token)[1])
		value, ok := leadAttribute(lead, name)
		if !ok {
			return token
		}
		return value
	})
}

func leadAttribute(lead *models.Lead, name string) (string, bool) {
	var get func(*models.Lead) string
	switch name {
	case "first_name":
		get = func(l *models.Lead) string { return l.FirstName }
	case "last_name":
		get = func(l *models.Lead) string { return l.LastName }
	case "company":
		get = func(l *models.Lead) string { return l.Company }
	case "title":
		get = func(l *models.Lead) string { return l.Title }
	case "email":
		get = func(l *models.Lead) string { return l.Email }
	case "linkedin_url":
		get = func(l *models.Lead) string { return l.LinkedInURL }
	case "industry":
		get = func(l *models.Lead) string { return l.Industry }
	case "website":
		get = func(l *models.Lead) string { return l.Website }
	case "department":
		get = func(l *models.Lead) string { return l.Department }
	case "annual_revenue":
		get = func(l *models.Lead) string { return l.AnnualRevenue }
	default:
		return "", false
	}
	if lead == nil {
		return "", true
	}
	return get(lead), true
}
