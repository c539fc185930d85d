package speech

import "strings"

// voiceAliases 将配置里的友好名称映射为火山引擎发音人
var voiceAliases = map[string]string{
	"ja_default":                "multi_female_shuangkuaisisi_moon_bigtts",
	"ja_female":                 "multi_female_shuangkuaisisi_moon_bigtts",
	"ja_male":                   "multi_male_jingqiangkanye_moon_bigtts",
	"zh_default":                "zh_female_vv_uranus_bigtts",
	"en_default":                "en_female_amy_jupiter_bigtts",
	"zh_male_m392_conversation": "zh_male_M392_conversation_wvae_bigtts",
}

// NormalizeVoiceAlias 解析发音人别名，未知名称原样返回
func NormalizeVoiceAlias(voice string) string {
	voice = strings.TrimSpace(voice)
	if voice == "" {
		return ""
	}
	if mapped, ok := voiceAliases[strings.ToLower(voice)]; ok {
		return mapped
	}
	return voice
}

func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	var candidates []string

	add := func(s string) {
		s = NormalizeVoiceAlias(s)
		if s == "" {
			return
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)

	if len(candidates) == 0 {
		return []string{voiceAliases["ja_default"]}
	}
	return candidates
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if voice == "" {
		return []string{defaultResource, seedResource}
	}

	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "moon", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}

	return []string{defaultResource, seedResource}
}
