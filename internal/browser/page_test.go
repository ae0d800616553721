package browser

import (
	"strings"
	"testing"
)

func TestClearScriptTargetsSelectorAndNotifies(t *testing.T) {
	js := clearScript(`textarea[name="q"]`)
	if !strings.Contains(js, `document.querySelector("textarea[name=\"q\"]")`) {
		t.Fatalf("selector not quoted as a JS string:\n%s", js)
	}
	for _, want := range []string{`el.value = ""`, `el.textContent = ""`, `new Event("input"`} {
		if !strings.Contains(js, want) {
			t.Fatalf("clear script missing %q:\n%s", want, js)
		}
	}
}

func TestScriptsEscapeHostileSelectors(t *testing.T) {
	sel := "div'); alert(1); ('"
	for name, js := range map[string]string{
		"input":  inputScript(sel),
		"clear":  clearScript(sel),
		"stream": streamScript(sel),
	} {
		if !strings.Contains(js, jsString(sel)) {
			t.Fatalf("%s script does not embed the quoted selector:\n%s", name, js)
		}
	}
	if got := streamScript(""); !strings.Contains(got, "document.body") {
		t.Fatalf("empty stream selector should read the body: %s", got)
	}
}
