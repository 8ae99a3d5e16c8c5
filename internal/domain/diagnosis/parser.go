package diagnosis

import (
	"regexp"
	"strings"

	"github.com/tcmclinic/tcmclinic/internal/errs"
)

var (
	answerPattern = regexp.MustCompile(`(?is)<answer>(.*?)</answer>`)
	thinkPattern  = regexp.MustCompile(`(?is)<think>(.*?)</think>`)
	herbPattern   = regexp.MustCompile(`^(\S+)[\s：:]+([0-9]+(?:\.[0-9]+)?\s*[g克])$`)
	weekPattern   = regexp.MustCompile(`第[一二三四五六七八九十0-9]{1,3}周`)
)

// StageOutput is the parsed result of one stage's model response.
type StageOutput struct {
	Answer   string     // <answer> body, trimmed
	Think    string     // <think> body, empty when the model gave none
	Syndrome string     // normalized label, stage 2 only
	Herbs    []HerbItem // stage 3 only
	Weeks    []string   // stage 4 only, the per-week lines
}

// stageSpec declares what a stage's answer must contain. Parsing never
// substitutes defaults: a missing requirement is a ParseError naming it.
type stageSpec struct {
	sections []string
}

var stageSpecs = map[Stage]stageSpec{
	StageRecord:       {sections: []string{"主诉", "病史", "症状"}},
	StageSyndrome:     {},
	StagePrescription: {},
	StageExercise:     {},
}

// Parser extracts and validates stage outputs against the closed syndrome
// set.
type Parser struct {
	syndromes []string
}

func NewParser(syndromes []string) *Parser {
	if len(syndromes) == 0 {
		syndromes = DefaultSyndromes
	}
	return &Parser{syndromes: syndromes}
}

func (p *Parser) Parse(stage Stage, raw string) (*StageOutput, error) {
	out := &StageOutput{}

	m := answerPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, errs.Parsef("stage %s response has no answer section", stage)
	}
	out.Answer = strings.TrimSpace(m[1])
	if out.Answer == "" {
		return nil, errs.Parsef("stage %s answer is empty", stage)
	}
	if t := thinkPattern.FindStringSubmatch(raw); t != nil {
		out.Think = strings.TrimSpace(t[1])
	}

	for _, section := range stageSpecs[stage].sections {
		if !strings.Contains(out.Answer, section) {
			return nil, errs.Parsef("stage %s answer is missing the %s section", stage, section)
		}
	}

	switch stage {
	case StageSyndrome:
		syndrome, ok := p.normalizeSyndrome(out.Answer)
		if !ok {
			return nil, errs.Parsef("syndrome %q is not in the classification set", out.Answer)
		}
		out.Syndrome = syndrome
	case StagePrescription:
		out.Herbs = parseHerbs(out.Answer)
		if len(out.Herbs) == 0 {
			return nil, errs.Parsef("prescription answer has no herb items")
		}
	case StageExercise:
		out.Weeks = weekPattern.FindAllString(out.Answer, -1)
		if len(out.Weeks) == 0 {
			return nil, errs.Parsef("exercise plan has no weekly schedule")
		}
	}
	return out, nil
}

// normalizeSyndrome maps the model's answer onto the closed set. The answer
// may be an index ("1", "1,2" with the primary first, per the prompt rules)
// or the label itself, possibly with extra punctuation around it.
func (p *Parser) normalizeSyndrome(answer string) (string, bool) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '，', '。', '、', ',', '.', '；', ';', '"', '“', '”':
			return -1
		}
		return r
	}, answer)

	// Index form: the first digit names the primary syndrome.
	if len(cleaned) > 0 && cleaned[0] >= '1' && cleaned[0] <= '9' {
		idx := int(cleaned[0] - '1')
		if idx < len(p.syndromes) {
			return p.syndromes[idx], true
		}
		return "", false
	}

	for _, s := range p.syndromes {
		if strings.Contains(cleaned, s) {
			return s, true
		}
	}
	return "", false
}

func parseHerbs(answer string) []HerbItem {
	var herbs []HerbItem
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := herbPattern.FindStringSubmatch(line); m != nil {
			herbs = append(herbs, HerbItem{Name: m[1], Dosage: strings.TrimSpace(m[2])})
		}
	}
	return herbs
}
