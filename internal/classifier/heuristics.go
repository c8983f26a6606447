package classifier

import (
	"strings"

	"mailwatcher/internal/model"
)

// DefaultKeywords 正文出现任一短语即视为事故
var DefaultKeywords = []string{
	"hubo un problema",
	"problema con la base de datos",
	"error en la base de datos",
	"error 500",
	"error 503",
	"caída del servicio",
	"servicio caido",
	"servicio caído",
	"no responde",
	"timeout",
	"fallo en la conexión",
	"falló la conexión",
	"crash",
	"exception",
	"excepción",
}

// DefaultSourceMarkers 说明文字仍是英文的迹象
var DefaultSourceMarkers = []string{
	"this is",
	"log file",
	"overall",
	"the log",
	"error message",
	"warning",
	"connection reset",
}

// DefaultTargetMarkers 说明文字已经是西班牙语的迹象
var DefaultTargetMarkers = []string{
	" resumen",
	" errores",
	"causa raíz",
	"acciones sugeridas",
	"servicio",
	"sistema",
	"registro",
}

const markerSampleRunes = 400

const (
	alertToken = "ALERTA"
	okToken    = "OK"
)

// Rule 产生结论的规则，用作 metrics label
type Rule string

const (
	RuleModel   Rule = "model"
	RuleKeyword Rule = "keyword"
	RuleDefault Rule = "default"
)

// readVerdict 只看模型回答里是否出现 ALERTA / OK，两者都有或都没有时 ok=false
func readVerdict(answer string) (model.Verdict, bool) {
	upper := strings.ToUpper(answer)
	hasAlert := strings.Contains(upper, alertToken)
	hasOK := strings.Contains(upper, okToken)

	switch {
	case hasAlert && !hasOK:
		return model.VerdictAlert, true
	case hasOK && !hasAlert:
		return model.VerdictOK, true
	default:
		return "", false
	}
}

// matchKeyword 返回在小写正文中命中的第一个关键词
func matchKeyword(content string, keywords []string) (string, bool) {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// needsTranslation 取前 400 个字符计分；source 分数严格大于 target 且至少为 1 才翻译
func needsTranslation(text string, source, target []string) bool {
	sample := []rune(strings.ToLower(text))
	if len(sample) > markerSampleRunes {
		sample = sample[:markerSampleRunes]
	}
	s := string(sample)

	src := countMarkers(s, source)
	tgt := countMarkers(s, target)
	return src > tgt && src >= 1
}

func countMarkers(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			n++
		}
	}
	return n
}
