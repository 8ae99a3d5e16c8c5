package diagnosis

import (
	"fmt"
	"strings"

	"github.com/tcmclinic/tcmclinic/internal/domain/visit"
	"github.com/tcmclinic/tcmclinic/internal/errs"
)

// DefaultSyndromes is the closed classification set used when no custom set
// is configured. Stage 2 must resolve to exactly one of these labels.
var DefaultSyndromes = []string{"脾虚湿阻", "胃热脾虚", "肝郁气滞", "脾肾阳虚"}

// PromptContext carries the upstream data a stage prompt is built from.
// Each stage reads only the fields it needs.
type PromptContext struct {
	Transcript string
	Sex        string
	Age        int // -1 when unknown
	Height     *float64
	Weight     *float64
	Record     string
	Syndrome   string
}

// Builder renders stage prompts. Building is pure: the same context always
// yields a byte-identical prompt.
type Builder struct {
	syndromes []string
}

func NewBuilder(syndromes []string) *Builder {
	if len(syndromes) == 0 {
		syndromes = DefaultSyndromes
	}
	return &Builder{syndromes: syndromes}
}

func (b *Builder) Syndromes() []string { return b.syndromes }

func (b *Builder) Build(stage Stage, pc PromptContext) (string, error) {
	switch stage {
	case StageRecord:
		if strings.TrimSpace(pc.Transcript) == "" {
			return "", errs.Validationf("transcript is required")
		}
		return fmt.Sprintf(recordTemplate, demographics(pc), pc.Transcript), nil
	case StageSyndrome:
		if pc.Record == "" {
			return "", errs.Validationf("clinical record is required")
		}
		return fmt.Sprintf(syndromeTemplate, pc.Record, b.syndromeRules()), nil
	case StagePrescription:
		if pc.Record == "" || pc.Syndrome == "" {
			return "", errs.Validationf("clinical record and syndrome are required")
		}
		return fmt.Sprintf(prescriptionTemplate, pc.Record, pc.Syndrome), nil
	case StageExercise:
		if pc.Syndrome == "" {
			return "", errs.Validationf("syndrome is required")
		}
		pre := visit.PreDiagnosis{Height: pc.Height, Weight: pc.Weight}
		bmi, ok := pre.BMI()
		if !ok {
			return "", errs.Validationf("height and weight are required to compute BMI for the exercise plan")
		}
		return fmt.Sprintf(exerciseTemplate,
			pc.Syndrome, *pc.Height, *pc.Weight, bmi), nil
	default:
		return "", errs.Validationf("unknown stage %d", int(stage))
	}
}

func demographics(pc PromptContext) string {
	sex := pc.Sex
	if sex == "" {
		sex = "未知"
	}
	age := "未知"
	if pc.Age >= 0 {
		age = fmt.Sprintf("%d岁", pc.Age)
	}
	height := "未提供"
	if pc.Height != nil && *pc.Height > 0 {
		height = fmt.Sprintf("%.1fcm", *pc.Height)
	}
	weight := "未提供"
	if pc.Weight != nil && *pc.Weight > 0 {
		weight = fmt.Sprintf("%.1fkg", *pc.Weight)
	}
	return fmt.Sprintf("性别：%s；年龄：%s；身高：%s；体重：%s", sex, age, height, weight)
}

// syndromeRules renders the numbered closed set plus the answer rules, in the
// "1-脾虚湿阻 2-胃热脾虚 ..." form the classification prompt expects.
func (b *Builder) syndromeRules() string {
	var sb strings.Builder
	for i, s := range b.syndromes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%d-%s", i+1, s)
	}
	return sb.String()
}

const recordTemplate = `你是一名经验丰富的中医医生，请根据下面的就诊信息，整理出一份规范的门诊病历。

# 患者基本信息
%s

# 就诊对话记录
%s

# 输出格式要求
<answer>
主诉：……
病史：……
症状：……
</answer>

病历必须包含"主诉"、"病史"、"症状"三个部分，内容全部来自对话记录，不要编造。`

const syndromeTemplate = `你是一名经验丰富的中医专家，擅长根据给定的患者病历给出对应的证型。

# 诊断依据指导
依托于中医学八纲辨证，是：阴、阳、表、里、寒、热、虚、实。
在临床上，八纲证候很少单独出现，通常是相互交织、组合的，因此需要统筹考虑。

# 患者病历
%s

# 输出格式要求（请务必按照下面的要求输出，不同的标签对应不同的内容）
<think>
你的诊断思考过程。
</think>
<answer>
你的判断证型。
</answer>

注意，<answer>中的内容需要严格遵守以下规则：
%s 请从以上证型中选择一个最符合的，输出对应的数字或证型名称。

请你根据患者病历信息，给出对应的证型。`

const prescriptionTemplate = `你是一名经验丰富的中医医生，请根据患者病历和证型开具中药处方。

# 患者病历
%s

# 证型
%s

# 输出格式要求
<answer>
药材名称 剂量
药材名称 剂量
……
</answer>

每行一味药材，剂量以克为单位（如"党参 10g"），不要输出其它内容。`

const exerciseTemplate = `你是一名经验丰富的中医运动康复医生，请根据患者的证型和体质指标制定运动处方。

# 证型
%s

# 体质指标
身高：%.1fcm；体重：%.1fkg；BMI：%.2f

# 输出格式要求
<answer>
第一周：……
第二周：……
……
运动建议说明：……
</answer>

运动处方至少包含一周的安排，按周列出，并在最后给出整体的运动建议说明。`
