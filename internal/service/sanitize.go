package service

import "strings"

// StripQuotes removes every ASCII single quote from s. Downstream query and
// filter syntax breaks on them; the step is lossy, so "Swiggy's" becomes
// "Swiggys". It is applied to the question, the rewritten query and the
// answer, never to passage text.
func StripQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "")
}
