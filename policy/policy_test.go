package policy

import (
	"context"
	"strings"
	"testing"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>Sample</title>
  <meta property="og:title" content="Sample">
  <meta name="description" content="A sample page">
  <link rel="canonical" href="https://example.com/sample">
</head>
<body>
  <div class="cookie-banner">Accept cookies</div>
  <article class="post" id="main-post">
    <h1>Heading</h1>
    <p onclick="steal()">Body text with an <a href="https://example.com/x">inline link</a>.</p>
    <script>track();</script>
    <time datetime="2026-08-01">August 1</time>
  </article>
</body>
</html>`

func TestApplyPolicySanitizes(t *testing.T) {
	e := NewEngine()
	res, err := e.ApplyPolicy(context.Background(), samplePage, "https://example.com/sample", "")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	out := res.TransformedHTML
	if strings.Contains(out, "<script") || strings.Contains(out, "track()") {
		t.Error("script survived sanitization")
	}
	if strings.Contains(out, "onclick") {
		t.Error("event handler survived sanitization")
	}
	for _, want := range []string{`class="post"`, `id="main-post"`, "<article", "Body text", `datetime="2026-08-01"`} {
		if !strings.Contains(out, want) {
			t.Errorf("sanitized output lost %q", want)
		}
	}
	if res.PolicyApplied != "sanitize" {
		t.Errorf("policyApplied = %q", res.PolicyApplied)
	}
}

func TestApplyPolicyRuleBySuffixAndHint(t *testing.T) {
	e := NewEngine(WithRules(
		Rule{Name: "strip-banners", HostSuffix: "example.com", StripSelectors: []string{".cookie-banner"}},
		Rule{Name: "news-mode", StripSelectors: []string{"time"}},
	))

	res, err := e.ApplyPolicy(context.Background(), samplePage, "https://www.example.com/sample", "")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	if strings.Contains(res.TransformedHTML, "Accept cookies") {
		t.Error("host rule did not strip the banner")
	}
	if len(res.RulesMatched) != 1 || res.RulesMatched[0] != "strip-banners" {
		t.Errorf("rulesMatched = %v", res.RulesMatched)
	}
	if !strings.HasPrefix(res.PolicyApplied, "sanitize+") {
		t.Errorf("policyApplied = %q", res.PolicyApplied)
	}

	// Hint selects a rule regardless of host.
	res, err = e.ApplyPolicy(context.Background(), samplePage, "https://other.org/", "news-mode")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	if strings.Contains(res.TransformedHTML, "August 1") {
		t.Error("hinted rule did not strip <time>")
	}
}

func TestApplyPolicyCountsMetadataFields(t *testing.T) {
	e := NewEngine()
	res, err := e.ApplyPolicy(context.Background(), samplePage, "https://example.com/", "")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	// title, og:title, description, canonical
	if res.FieldsValidated != 4 {
		t.Errorf("fieldsValidated = %d, want 4", res.FieldsValidated)
	}
}

func TestApplyPolicyEmptyBody(t *testing.T) {
	e := NewEngine()
	res, err := e.ApplyPolicy(context.Background(), "<p>bare fragment</p>", "https://example.com/", "")
	if err != nil {
		t.Fatalf("ApplyPolicy: %v", err)
	}
	if !strings.Contains(res.TransformedHTML, "bare fragment") {
		t.Errorf("fragment lost: %q", res.TransformedHTML)
	}
}
