package nlp

import (
	"regexp"
	"strings"
)

// Errand spec patterns. Matched against lowercased text; the keys they emit
// are merged under user-provided specs.
var (
	rePickupType   = regexp.MustCompile(`(帮忙取|代取|领取|取一下)`)
	rePurchaseType = regexp.MustCompile(`(代买|帮买|购买|买一下)`)
	reDeliveryType = regexp.MustCompile(`(帮送|投递|送达|送一下)`)
	reGeneralType  = regexp.MustCompile(`(跑腿|帮忙)`)

	reItem     = regexp.MustCompile(`(外卖|快递|文件|奶茶|食物|作业|书|钥匙|雨伞)`)
	reQuantity = regexp.MustCompile(`([一二三四五六七八九十\d]+)\s*(个|件|份|单|本书|箱|袋|样)`)
	reSize     = regexp.MustCompile(`(大|小|中|重)号?(箱子|包裹|文件|东西|有点重|不重)?`)
	reWeight   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(kg|公斤|斤|克|g)`)

	reUrgency = regexp.MustCompile(`(尽快|马上|急|越快越好)`)
	reFragile = regexp.MustCompile(`(易碎|小心轻放|怕摔)`)
	reThermal = regexp.MustCompile(`(保暖|冷藏|加热)`)
)

// Electronics spec patterns.
var (
	reStorage    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(GB|TB|兆|吉|太)字节?\s*(固态|机械)?硬盘?`)
	reRAM        = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(GB|TB|MB|兆|吉|太)字节?\s*内存`)
	reScreenSize = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*英寸`)
	reCPU        = regexp.MustCompile(`([Ii][3579])\s*[- ]?\d{3,5}[A-Z]*`)
)

// Book spec patterns.
var (
	reSubject = regexp.MustCompile(`(高等数学|线性代数|英语|计算机基础|概率论)`)
	reEdition = regexp.MustCompile(`(第[一二三四五六七八九十]+版)`)
)

// ExtractSpecsByCategory dispatches to the category-specific extractor.
// Unknown categories produce no fuzzy specs.
func ExtractSpecsByCategory(category, text string) map[string]interface{} {
	switch category {
	case "Electronics":
		return ExtractElectronicsSpecs(text)
	case "Errands":
		return ExtractErrandSpecs(text)
	case "Books":
		return ExtractBookSpecs(text)
	default:
		return map[string]interface{}{}
	}
}

// ExtractErrandSpecs pulls fuzzy errand details out of free text. These
// augment the structured specs (addresses, times, door-delivery flags) the
// user supplied directly.
func ExtractErrandSpecs(text string) map[string]interface{} {
	specs := map[string]interface{}{}
	lower := strings.ToLower(text)

	switch {
	case rePickupType.MatchString(lower):
		specs["general_type_text"] = "pickup"
	case rePurchaseType.MatchString(lower):
		specs["general_type_text"] = "purchase"
	case reDeliveryType.MatchString(lower):
		specs["general_type_text"] = "delivery"
	case reGeneralType.MatchString(lower):
		specs["general_type_text"] = "general_errand"
	}

	if m := reItem.FindStringSubmatch(lower); m != nil {
		specs["item_text"] = m[1]
	}
	if m := reQuantity.FindString(lower); m != "" {
		specs["quantity_text"] = m
	}
	if m := reSize.FindString(lower); m != "" {
		specs["size_text"] = m
	}
	if m := reWeight.FindString(lower); m != "" {
		specs["weight_text"] = m
	}

	if reUrgency.MatchString(lower) {
		specs["urgency_text"] = "urgent"
	}
	if reFragile.MatchString(lower) {
		specs["handling_text"] = "fragile"
	} else if reThermal.MatchString(lower) {
		specs["handling_text"] = "temperature_sensitive"
	}

	return specs
}

// ExtractElectronicsSpecs captures storage, RAM, screen size and CPU tokens.
func ExtractElectronicsSpecs(text string) map[string]interface{} {
	specs := map[string]interface{}{}
	if m := reStorage.FindString(text); m != "" {
		specs["storage"] = m
	}
	if m := reRAM.FindString(text); m != "" {
		specs["ram"] = m
	}
	if m := reScreenSize.FindStringSubmatch(text); m != nil {
		specs["screen_size"] = m[1] + " inch"
	}
	if m := reCPU.FindString(text); m != "" {
		specs["cpu"] = m
	}
	return specs
}

// ExtractBookSpecs captures textbook subject and edition.
func ExtractBookSpecs(text string) map[string]interface{} {
	specs := map[string]interface{}{}
	if m := reSubject.FindStringSubmatch(text); m != nil {
		specs["subject"] = m[1]
	}
	if m := reEdition.FindStringSubmatch(text); m != nil {
		specs["edition"] = m[1]
	}
	return specs
}
