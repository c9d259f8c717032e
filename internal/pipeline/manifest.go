package pipeline

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ManifestFilename 是上传包内清单文件的约定名称。
const ManifestFilename = "info.json"

// metadataFilename 是旧版客户端附带的元数据文件，不参与字段提取。
const metadataFilename = "metadata.json"

// Manifest 封装 info.json，按路径读取字段。
type Manifest struct {
	raw []byte
}

// ManifestFile 是 info.json files 列表中的一项。
type ManifestFile struct {
	Filename  string
	Timestamp string
}

// ParseManifest 校验 info.json 为合法的 JSON 对象。
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, NewValidationError("%s is not valid JSON", ManifestFilename)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, NewValidationError("%s must be a JSON object", ManifestFilename)
	}
	return &Manifest{raw: data}, nil
}

func (m *Manifest) get(path string) gjson.Result {
	return gjson.GetBytes(m.raw, path)
}

// String 返回字符串字段，数字等标量会转为文本，缺失或为 null 时返回空串。
func (m *Manifest) String(path string) string {
	r := m.get(path)
	if !r.Exists() || r.Type == gjson.Null {
		return ""
	}
	return strings.TrimSpace(r.String())
}

// Has 判断字段是否存在且不为 null。
func (m *Manifest) Has(path string) bool {
	r := m.get(path)
	return r.Exists() && r.Type != gjson.Null
}

func (m *Manifest) Format() string          { return m.String("format") }
func (m *Manifest) Item() string            { return m.String("item") }
func (m *Manifest) Identifier() string      { return m.String("identifier") }
func (m *Manifest) SurveyGUID() string      { return m.String("surveyGuid") }
func (m *Manifest) SurveyCreatedOn() string { return m.String("surveyCreatedOn") }
func (m *Manifest) CreatedOn() string       { return m.String("createdOn") }
func (m *Manifest) AppVersion() string      { return m.String("appVersion") }
func (m *Manifest) PhoneInfo() string       { return m.String("phoneInfo") }

// DataFilename 返回通用格式中声明的数据文件名，未声明时为 data.json。
func (m *Manifest) DataFilename() string {
	if name := m.String("dataFilename"); name != "" {
		return name
	}
	return "data.json"
}

// SchemaRevision 返回 schemaRevision 字段，字段缺失或不是正整数时 ok 为 false。
func (m *Manifest) SchemaRevision() (int, bool) {
	r := m.get("schemaRevision")
	if !r.Exists() {
		return 0, false
	}
	var rev int
	switch r.Type {
	case gjson.Number:
		rev = int(r.Int())
	case gjson.String:
		v, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return 0, false
		}
		rev = v
	default:
		return 0, false
	}
	if rev < 1 {
		return 0, false
	}
	return rev, true
}

// HasFiles 判断 files 字段是否存在且为数组。
func (m *Manifest) HasFiles() bool {
	return m.get("files").IsArray()
}

// Files 返回 files 列表。
func (m *Manifest) Files() []ManifestFile {
	var out []ManifestFile
	for _, f := range m.get("files").Array() {
		out = append(out, ManifestFile{
			Filename:  strings.TrimSpace(f.Get("filename").String()),
			Timestamp: strings.TrimSpace(f.Get("timestamp").String()),
		})
	}
	return out
}

// Map 将 info.json 解码为普通对象，作为记录的 metadata。
func (m *Manifest) Map() map[string]interface{} {
	out := map[string]interface{}{}
	d := json.NewDecoder(strings.NewReader(string(m.raw)))
	d.UseNumber()
	if err := d.Decode(&out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

var buildNumberPattern = regexp.MustCompile(`(?i)build\s+(\d+)`)

// ParseAppVersion 从 "version 1.0.2, build 7" 形式或纯数字中解析 build 号。
func ParseAppVersion(appVersion string) *int {
	appVersion = strings.TrimSpace(appVersion)
	if appVersion == "" {
		return nil
	}
	if m := buildNumberPattern.FindStringSubmatch(appVersion); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			return &v
		}
	}
	if v, err := strconv.Atoi(appVersion); err == nil {
		return &v
	}
	return nil
}
