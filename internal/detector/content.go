package detector

// Traditional/Simplified glyph pairs used for content analysis. Each entry
// maps one Traditional character to its Simplified counterpart for the same
// word. Only unambiguous one-to-one pairs are listed; characters shared by
// both scripts (你, 好, 天) carry no signal and are absent.
var charPairs = [][2]rune{
	{'這', '这'}, {'們', '们'}, {'時', '时'}, {'從', '从'}, {'開', '开'},
	{'長', '长'}, {'問', '问'}, {'進', '进'}, {'動', '动'}, {'現', '现'},
	{'個', '个'}, {'測', '测'}, {'試', '试'}, {'學', '学'}, {'習', '习'},
	{'課', '课'}, {'題', '题'}, {'關', '关'}, {'於', '于'}, {'電', '电'},
	{'歷', '历'}, {'請', '请'}, {'覺', '觉'}, {'麼', '么'}, {'樣', '样'},
	{'認', '认'}, {'為', '为'}, {'導', '导'}, {'選', '选'}, {'擇', '择'},
	{'專', '专'}, {'業', '业'}, {'說', '说'}, {'話', '话'}, {'語', '语'},
	{'讀', '读'}, {'寫', '写'}, {'聽', '听'}, {'見', '见'}, {'視', '视'},
	{'買', '买'}, {'賣', '卖'}, {'車', '车'}, {'馬', '马'}, {'魚', '鱼'},
	{'鳥', '鸟'}, {'龍', '龙'}, {'風', '风'}, {'門', '门'}, {'間', '间'},
	{'東', '东'}, {'圖', '图'}, {'書', '书'}, {'館', '馆'}, {'紙', '纸'},
	{'筆', '笔'}, {'畫', '画'}, {'點', '点'}, {'線', '线'}, {'網', '网'},
	{'頁', '页'}, {'號', '号'}, {'碼', '码'}, {'機', '机'}, {'腦', '脑'},
	{'體', '体'}, {'聲', '声'}, {'樂', '乐'}, {'劇', '剧'}, {'場', '场'},
	{'員', '员'}, {'師', '师'}, {'醫', '医'}, {'藥', '药'}, {'錢', '钱'},
	{'銀', '银'}, {'鐵', '铁'}, {'愛', '爱'}, {'歡', '欢'}, {'應', '应'},
	{'該', '该'}, {'讓', '让'}, {'記', '记'}, {'論', '论'}, {'談', '谈'},
	{'謝', '谢'}, {'變', '变'}, {'難', '难'}, {'離', '离'}, {'萬', '万'},
}

const (
	traditionalRatioMin = 0.70
	simplifiedRatioMax  = 0.30
)

type glyphKind uint8

const (
	glyphTraditional glyphKind = iota + 1
	glyphSimplified
)

var glyphTable = buildGlyphTable()

func buildGlyphTable() map[rune]glyphKind {
	table := make(map[rune]glyphKind, len(charPairs)*2)
	for _, p := range charPairs {
		table[p[0]] = glyphTraditional
		table[p[1]] = glyphSimplified
	}
	return table
}

// AnalyzeText inspects decoded subtitle text and decides the Chinese
// variant by counting paired Traditional/Simplified glyphs. Returns
// ok=false when the text contains no distinguishing characters or the
// counts are too close to call either way.
func AnalyzeText(text string) (Category, int, bool) {
	var traditional, simplified int
	for _, r := range text {
		switch glyphTable[r] {
		case glyphTraditional:
			traditional++
		case glyphSimplified:
			simplified++
		}
	}

	total := traditional + simplified
	if total == 0 {
		return "", 0, false
	}

	ratio := float64(traditional) / float64(total)
	switch {
	case ratio >= traditionalRatioMin:
		return CategoryCHT, scoreContentCHT, true
	case ratio <= simplifiedRatioMax:
		return CategoryCHS, scoreCHS, true
	default:
		return "", 0, false
	}
}
