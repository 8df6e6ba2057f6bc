package apierr

import "golang.org/x/text/language"

const (
	LocaleHebrew  = "he"
	LocaleEnglish = "en"
)

var catalog = map[string]map[string]string{
	LocaleHebrew: {
		string(KindValidation):         "נתונים לא תקינים",
		string(KindDuplicateAccount):   "משתמש עם שם וטלפון זה כבר קיים",
		string(KindInvalidCredentials): "שם משתמש, טלפון או סיסמה שגויים",
		string(KindAuthRequired):       "נדרשת התחברות מחדש",
		string(KindForbidden):          "נדרשות הרשאות מנהל",
		string(KindNotFound):           "המשתמש לא נמצא",
		string(KindInternal):           "שגיאת שרת",
		"rate_limited.general":         "יותר מדי בקשות, נסה שוב מאוחר יותר.",
		"rate_limited.auth":            "יותר מדי ניסיונות, נסה שוב מאוחר יותר.",
		"rate_limited.prompt":          "נוצרו יותר מדי שאלות, נסה שוב מאוחר יותר.",
		"name_too_short":               "השם חייב להכיל לפחות 2 תווים",
		"phone_length":                 "מספר טלפון חייב להכיל בין 9 ל-15 ספרות",
		"password_length":              "הסיסמה חייבת להיות בין 8 ל-16 תווים",
		"password_complexity":          "הסיסמה חייבת להכיל אות גדולה, אות קטנה, מספר ותו מיוחד",
		"name_required":                "נדרש שם",
		"phone_required":               "נדרש מספר טלפון",
		"password_required":            "נדרשת סיסמה",
		"prompt_length":                "השאלה חייבת להכיל בין 1 ל-1000 תווים",
	},
	LocaleEnglish: {
		string(KindValidation):         "Validation failed",
		string(KindDuplicateAccount):   "A user with this name and phone already exists",
		string(KindInvalidCredentials): "Invalid name, phone or password",
		string(KindAuthRequired):       "Authentication required, please log in again",
		string(KindForbidden):          "Admin permissions required",
		string(KindNotFound):           "User not found",
		string(KindInternal):           "Internal server error",
		"rate_limited.general":         "Too many requests, please try again later.",
		"rate_limited.auth":            "Too many attempts, please try again later.",
		"rate_limited.prompt":          "Too many prompts created, please try again later.",
		"name_too_short":               "Name must be at least 2 characters",
		"phone_length":                 "Phone must be between 9 and 15 digits",
		"password_length":              "Password must be between 8 and 16 characters",
		"password_complexity":          "Password must contain an upper case letter, a lower case letter, a digit and a symbol",
		"name_required":                "Name is required",
		"phone_required":               "Phone is required",
		"password_required":            "Password is required",
		"prompt_length":                "Prompt must be between 1 and 1000 characters",
	},
}

// Message returns the localized text for key. Unknown locales fall back to
// Hebrew and unknown keys are returned as-is.
func Message(locale, key string) string {
	msgs, ok := catalog[locale]
	if !ok {
		msgs = catalog[LocaleHebrew]
	}
	if m, ok := msgs[key]; ok {
		return m
	}
	return key
}

// SupportedLocale reports whether locale has a catalog.
func SupportedLocale(locale string) bool {
	_, ok := catalog[locale]
	return ok
}

var (
	locales = []string{LocaleHebrew, LocaleEnglish}
	matcher = language.NewMatcher([]language.Tag{language.Hebrew, language.English})
)

// negotiate picks the best catalog for an Accept-Language header, honoring
// q-values, and returns fallback when nothing matches.
func negotiate(acceptLanguage, fallback string) string {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return locales[idx]
}
