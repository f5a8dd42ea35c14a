package hybrid

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// spaMarkers are mount points and globals left by client-side frameworks.
var spaMarkers = map[string][]string{
	"React":   {`id="root"`, "data-reactroot", "__react"},
	"Next.js": {`id="__next"`, "__NEXT_DATA__"},
	"Vue":     {`id="app"`, "data-v-app", "__vue"},
	"Nuxt":    {`id="__nuxt"`, "__NUXT__"},
	"Angular": {"ng-app", "ng-version", "<app-root"},
	"Svelte":  {"svelte-", "__sveltekit"},
	"Ember":   {"ember-application", "data-ember"},
}

// DetectJavaScriptFramework names the client-side framework a page appears
// to use, or "Unknown".
func DetectJavaScriptFramework(html string) string {
	for _, name := range []string{"Next.js", "Nuxt", "React", "Vue", "Angular", "Svelte", "Ember"} {
		for _, marker := range spaMarkers[name] {
			if strings.Contains(html, marker) {
				return name
			}
		}
	}
	return "Unknown"
}

// minBodyWords is the visible text below which a script-heavy page is
// assumed to render client-side.
const minBodyWords = 50

// NeedsJavaScript determines if a page likely needs a browser to render.
func NeedsJavaScript(doc *goquery.Document, html string, scriptCount int) bool {
	if scriptCount == 0 {
		return false
	}
	if scriptCount > 15 {
		return true
	}
	if DetectJavaScriptFramework(html) != "Unknown" {
		return true
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Fields(body.Text())) < minBodyWords
}
