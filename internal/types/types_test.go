package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeAbsent 空列表应被规整为缺失（nil），序列化时不输出
func TestNormalizeAbsent(t *testing.T) {
	p := &StructuredProfile{
		Personal: PersonalInfo{FullName: "张三"},
		Professional: ProfessionalInfo{
			Skills: SkillGroups{Primary: []string{"Go", "  "}, Secondary: []string{}},
		},
		Experience: []Experience{{}, {Company: "ACME", Achievements: []string{""}}},
		Education:  []Education{},
		Languages:  []Language{{Name: " "}},
		Additional: AdditionalInfo{Projects: []string{}},
	}
	p.NormalizeAbsent()

	assert.Equal(t, []string{"Go"}, p.Professional.Skills.Primary)
	assert.Nil(t, p.Professional.Skills.Secondary)
	require.Len(t, p.Experience, 1)
	assert.Nil(t, p.Experience[0].Achievements)
	assert.Nil(t, p.Education)
	assert.Nil(t, p.Languages)
	assert.Nil(t, p.Additional.Projects)

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "education")
	assert.NotContains(t, string(data), "secondary")
}

// TestMergeKeepsConfirmedFields 后续轮次的空值不能覆盖已确认字段
func TestMergeKeepsConfirmedFields(t *testing.T) {
	three := 3.0
	r := &SearchRequirements{Position: "Backend Engineer", Skills: []string{"Go"}, Location: "Berlin"}
	r.Merge(&SearchRequirements{Position: "", Skills: []string{"go", "Kafka"}, ExperienceYears: ExperienceRange{Min: &three}})

	assert.Equal(t, "Backend Engineer", r.Position)
	assert.Equal(t, "Berlin", r.Location)
	assert.Equal(t, []string{"Go", "Kafka"}, r.Skills)
	require.NotNil(t, r.ExperienceYears.Min)
	assert.Equal(t, 3.0, *r.ExperienceYears.Min)
	assert.Nil(t, r.ExperienceYears.Max)
}

func TestAllSkills(t *testing.T) {
	p := &StructuredProfile{Professional: ProfessionalInfo{Skills: SkillGroups{
		Primary: []string{"python"}, Secondary: []string{"django"}, Tools: []string{"docker"},
	}}}
	assert.Equal(t, []string{"python", "django", "docker"}, p.AllSkills())

	var nilProfile *StructuredProfile
	assert.Nil(t, nilProfile.AllSkills())
}
