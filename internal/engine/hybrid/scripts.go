package hybrid

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

const (
	scriptTimeout  = 250 * time.Millisecond
	maxGlobalBytes = 4096
)

// ExtractScriptData runs the page's inline scripts in a bare JS VM and
// returns the globals they defined, JSON-encoded and keyed "js:<name>".
// Scripts that touch a missing DOM API simply fail; whatever they assigned
// before failing is kept.
func ExtractScriptData(doc *goquery.Document, pageURL string) map[string]string {
	vm := goja.New()

	vm.Set("window", vm.GlobalObject())
	vm.Set("self", vm.GlobalObject())
	vm.Set("globalThis", vm.GlobalObject())
	vm.Set("location", map[string]any{"href": pageURL})
	vm.Set("document", map[string]any{"location": map[string]any{"href": pageURL}})
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	vm.Set("console", map[string]any{"log": noop, "warn": noop, "error": noop})

	baseline := make(map[string]struct{})
	for _, k := range vm.GlobalObject().Keys() {
		baseline[k] = struct{}{}
	}

	doc.Find("script:not([src])").Each(func(i int, sel *goquery.Selection) {
		if typ, ok := sel.Attr("type"); ok && !isJavaScriptType(typ) {
			return
		}
		src := strings.TrimSpace(sel.Text())
		if src == "" {
			return
		}

		timer := time.AfterFunc(scriptTimeout, func() { vm.Interrupt("script timeout") })
		_, err := vm.RunString(src)
		timer.Stop()
		vm.ClearInterrupt()
		if err != nil {
			log.Debug().Err(err).Int("script", i).Msg("Inline script failed")
		}
	})

	data := make(map[string]string)
	for _, key := range vm.GlobalObject().Keys() {
		if _, ok := baseline[key]; ok || isStandardGlobal(key) {
			continue
		}
		val := vm.Get(key)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			continue
		}
		if _, isFunc := goja.AssertFunction(val); isFunc {
			continue
		}
		encoded, err := json.Marshal(val.Export())
		if err != nil || len(encoded) > maxGlobalBytes {
			continue
		}
		data["js:"+key] = string(encoded)
	}
	return data
}

func isJavaScriptType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "", "text/javascript", "application/javascript", "module":
		return true
	}
	return false
}

func isStandardGlobal(key string) bool {
	standards := map[string]bool{
		"window": true, "self": true, "globalThis": true, "document": true, "location": true, "console": true,
		"Object": true, "Array": true, "String": true, "Number": true, "Boolean": true,
		"Date": true, "Math": true, "JSON": true, "RegExp": true, "Error": true,
		"Function": true, "parseInt": true, "parseFloat": true, "isNaN": true,
		"isFinite": true, "encodeURI": true, "decodeURI": true, "encodeURIComponent": true,
		"decodeURIComponent": true, "undefined": true, "NaN": true, "Infinity": true,
	}
	return standards[key]
}
