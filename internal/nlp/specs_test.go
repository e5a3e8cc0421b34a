package nlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractErrandSpecsGeneralType(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"帮忙取一下快递", "pickup"},
		{"代买一杯奶茶", "purchase"},
		{"帮送文件到宿舍", "delivery"},
		{"跑腿服务", "general_errand"},
	}
	for _, c := range cases {
		specs := ExtractErrandSpecs(c.text)
		assert.Equal(t, c.want, specs["general_type_text"], "text %q", c.text)
	}
}

func TestExtractErrandSpecsPickupWinsOverGeneral(t *testing.T) {
	// 帮忙取 matches both the pickup and general patterns; pickup has priority.
	specs := ExtractErrandSpecs("帮忙取个包裹")
	assert.Equal(t, "pickup", specs["general_type_text"])
}

func TestExtractErrandSpecsDetails(t *testing.T) {
	specs := ExtractErrandSpecs("帮忙取外卖 三份 大箱子 2.5kg 尽快 易碎")
	assert.Equal(t, "外卖", specs["item_text"])
	assert.Equal(t, "三份", specs["quantity_text"])
	assert.Contains(t, specs["size_text"], "大")
	assert.Equal(t, "2.5kg", specs["weight_text"])
	assert.Equal(t, "urgent", specs["urgency_text"])
	assert.Equal(t, "fragile", specs["handling_text"])
}

func TestExtractErrandSpecsHandlingPriority(t *testing.T) {
	// Fragile wins over temperature-sensitive when both appear.
	both := ExtractErrandSpecs("易碎 需要冷藏")
	assert.Equal(t, "fragile", both["handling_text"])

	thermal := ExtractErrandSpecs("需要保暖的食物")
	assert.Equal(t, "temperature_sensitive", thermal["handling_text"])
}

func TestExtractErrandSpecsNoMatches(t *testing.T) {
	specs := ExtractErrandSpecs("hello world")
	assert.Empty(t, specs)
}

func TestExtractElectronicsSpecs(t *testing.T) {
	specs := ExtractElectronicsSpecs("笔记本 512GB固态硬盘 16GB内存 15.6英寸 i7-12700H")
	assert.Contains(t, specs["storage"], "512")
	assert.Contains(t, specs["ram"], "16")
	assert.Equal(t, "15.6 inch", specs["screen_size"])
	assert.Contains(t, specs["cpu"], "i7")
}

func TestExtractBookSpecs(t *testing.T) {
	specs := ExtractBookSpecs("高等数学 第七版 教材")
	assert.Equal(t, "高等数学", specs["subject"])
	assert.Equal(t, "第七版", specs["edition"])
}

func TestExtractSpecsByCategoryDispatch(t *testing.T) {
	assert.NotEmpty(t, ExtractSpecsByCategory("Books", "线性代数 第二版"))
	assert.NotEmpty(t, ExtractSpecsByCategory("Electronics", "13英寸笔记本"))
	assert.Empty(t, ExtractSpecsByCategory("Furniture", "一张桌子"))
}
