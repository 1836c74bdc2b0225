package format

import (
	"strings"
	"testing"
)

var dialects = []Dialect{WhatsApp, Discord, Telegram}

func TestTranscode_Example(t *testing.T) {
	in := "# Title\n\n**bold** and *italic*\n\n```js\ncode\n```"
	want := "*Title*\n\n*bold* and *italic*\n\n```js\ncode\n```"
	if got := WhatsApp.Transcode(in); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}

	wantDiscord := "**Title**\n\n**bold** and *italic*\n\n```js\ncode\n```"
	if got := Discord.Transcode(in); got != wantDiscord {
		t.Errorf("discord: got %q\nwant %q", got, wantDiscord)
	}

	wantTelegram := "<b>Title</b>\n\n<b>bold</b> and <i>italic</i>\n\n<pre><code class=\"language-js\">code</code></pre>"
	if got := Telegram.Transcode(in); got != wantTelegram {
		t.Errorf("telegram: got %q\nwant %q", got, wantTelegram)
	}
}

func TestTranscode_WhatsAppRules(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**b**", "*b*"},
		{"**a** and **b**", "*a* and *b*"},
		{"__a__ __b__", "*a* *b*"},
		{"~~x~~ ok ~~y~~", "~x~ ok ~y~"},
		{"__b__", "*b*"},
		{"***bi***", "*_bi_*"},
		{"~~gone~~", "~gone~"},
		{"see [docs](https://example.com/x)", "see docs: https://example.com/x"},
		{"### Sub **heading**", "*Sub heading*"},
		{"keep `**code**` as is", "keep `**code**` as is"},
		{"**a `b` c**", "*a `b` c*"},
		{"#hashtag stays", "#hashtag stays"},
		{"_already_ *target*", "_already_ *target*"},
	}
	for _, tt := range tests {
		if got := WhatsApp.Transcode(tt.in); got != tt.want {
			t.Errorf("Transcode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTranscode_TelegramHTML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**b** *i* _i_ ~~s~~", "<b>b</b> <i>i</i> <i>i</i> <s>s</s>"},
		{"***bi***", "<b><i>bi</i></b>"},
		{"__b__", "<b>b</b>"},
		{"**a** and **b**", "<b>a</b> and <b>b</b>"},
		{"~~x~~ ok ~~y~~", "<s>x</s> ok <s>y</s>"},
		{"a < b && c > d", "a &lt; b &amp;&amp; c &gt; d"},
		{"&amp; stays", "&amp; stays"},
		{"see [docs](https://e.com/?a=1&b=2)", `see <a href="https://e.com/?a=1&amp;b=2">docs</a>`},
		{"keep `**x** <y>` raw", "keep <code>**x** &lt;y&gt;</code> raw"},
		{"**a `b` c**", "<b>a <code>b</code> c</b>"},
		{"### Sub **heading**", "<b>Sub heading</b>"},
		{"snake_case_name", "snake_case_name"},
		{"* item", "* item"},
		{"> quote", "&gt; quote"},
		{"```go\nif a < b {\n}\n```", "<pre><code class=\"language-go\">if a &lt; b {\n}</code></pre>"},
		{"```\nunclosed", "<pre><code>unclosed</code></pre>"},
	}
	for _, tt := range tests {
		if got := Telegram.Transcode(tt.in); got != tt.want {
			t.Errorf("Transcode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// WhatsApp reads *x* as bold, so canonical *x* cannot be told apart from
// output of an earlier pass and is left alone; _x_ is its italic.
func TestTranscode_Italics(t *testing.T) {
	tests := []struct {
		d    Dialect
		want string
	}{
		{WhatsApp, "*star* _under_"},
		{Discord, "*star* _under_"},
		{Telegram, "<i>star</i> <i>under</i>"},
	}
	for _, tt := range tests {
		if got := tt.d.Transcode("*star* _under_"); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.d.Name, got, tt.want)
		}
	}
}

func TestPlainText(t *testing.T) {
	got := PlainText(Telegram.Transcode("**a** & [l](http://x) `<c>`"))
	if want := "a & l <c>"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTranscode_Idempotent(t *testing.T) {
	inputs := []string{
		"# Header\n## Second\ntext",
		"**bold** *it* _it_ ***both*** __under__",
		"~~strike~~ and `inline **code**`",
		"[link](https://a.b/c) and ![img](https://a.b/i.png)",
		"```\n**not bold**\n# not header\n```\nafter **b**",
		"mixed **a `b` c** ~~d~~\n\n> quote",
		"**a** and **b** ~~x~~ ok ~~y~~ __c__ __d__",
		"*b** [l](http://x) **b* *b** **b* ",
		"*x **b** y* and *x *b* y*",
		"a < b &amp; c & `d > e`",
		"```go\nx := a < b\n```\n<pre><code>kept</code></pre>",
	}
	for _, d := range dialects {
		for _, in := range inputs {
			once := d.Transcode(in)
			twice := d.Transcode(once)
			if once != twice {
				t.Errorf("%s not idempotent for %q:\n once %q\ntwice %q", d.Name, in, once, twice)
			}
		}
	}
}

func TestTranscode_FenceIsolation(t *testing.T) {
	block := "```md\n# not a header\n**still raw** ~~raw~~ [x](http://y)\n  ```\n"
	in := "**out**\n" + block + "**out**"
	for _, d := range []Dialect{WhatsApp, Discord} {
		got := d.Transcode(in)
		if !strings.Contains(got, block) {
			t.Errorf("%s altered fenced block: %q", d.Name, got)
		}
	}

	want := "<b>out</b>\n<pre><code class=\"language-md\"># not a header\n**still raw** ~~raw~~ [x](http://y)</code></pre>\n<b>out</b>"
	if got := Telegram.Transcode(in); got != want {
		t.Errorf("telegram: got %q\nwant %q", got, want)
	}
}

func TestTranscode_PreservesNewlines(t *testing.T) {
	in := "a\r\n\n\nb\n"
	if got := WhatsApp.Transcode(in); got != in {
		t.Errorf("got %q", got)
	}
}
