package masking

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces every data/stringData value in a masked
// Kubernetes Secret.
const MaskedSecretValue = "[MASKED_SECRET_DATA]"

// Cheap pre-filters for AppliesTo: a kind line in YAML, a kind field in JSON.
var (
	yamlSecretPattern = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretPattern = regexp.MustCompile(`"kind"\s*:\s*"Secret"`)
)

// KubernetesSecretMasker redacts the data/stringData of Kubernetes Secret
// resources — standalone, inside SecretLists, inside generic Lists, and
// embedded in last-applied-configuration annotations — while leaving
// ConfigMaps and every other kind untouched.
type KubernetesSecretMasker struct{}

func (m *KubernetesSecretMasker) Name() string { return "kubernetes_secret" }

// AppliesTo does a substring check before the regexes so non-Kubernetes
// output skips both.
func (m *KubernetesSecretMasker) AppliesTo(data string) bool {
	if !strings.Contains(data, "Secret") {
		return false
	}
	return yamlSecretPattern.MatchString(data) || jsonSecretPattern.MatchString(data)
}

// Mask detects the serialization and applies the matching parser. JSON is
// tried first when the data looks like JSON — letting the YAML parser eat
// a JSON document would re-serialize it as YAML. Fails open: any parse or
// encode error returns the input unchanged.
func (m *KubernetesSecretMasker) Mask(data string) string {
	trimmed := strings.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := m.maskJSON(data); masked != data {
			return masked
		}
	}
	if masked := m.maskYAML(data); masked != data {
		return masked
	}
	return data
}

// maskYAML handles (multi-document) YAML, re-serializing only when a
// Secret was actually masked so untouched output stays byte-identical.
func (m *KubernetesSecretMasker) maskYAML(data string) string {
	decoder := yaml.NewDecoder(strings.NewReader(data))
	var documents []map[string]any
	anySecret := false

	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return data
		}
		if doc == nil {
			continue
		}
		if maskResourceTree(doc) {
			anySecret = true
		}
		documents = append(documents, doc)
	}

	if !anySecret || len(documents) == 0 {
		return data
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range documents {
		if err := encoder.Encode(doc); err != nil {
			return data
		}
	}
	if err := encoder.Close(); err != nil {
		return data
	}

	// The encoder always appends a newline; mirror the input's ending.
	result := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(data, "\n") {
		result += "\n"
	}
	return result
}

// maskJSON handles a single JSON object, re-indented the way kubectl
// prints it.
func (m *KubernetesSecretMasker) maskJSON(data string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return data
	}

	if !maskResourceTree(obj) {
		return data
	}

	result, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return data
	}

	output := string(result)
	if strings.HasSuffix(data, "\n") {
		output += "\n"
	}
	return output
}

// maskResourceTree masks one parsed resource: a Secret/SecretList
// directly, or the Secret items of any *List. Reports whether anything
// was redacted.
func maskResourceTree(resource map[string]any) bool {
	if isKubernetesSecret(resource) {
		maskSecretFields(resource)
		maskAnnotationSecrets(resource)
		return true
	}
	if !isKubernetesList(resource) {
		return false
	}

	items, _ := resource["items"].([]any)
	masked := false
	for _, item := range items {
		itemMap, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if isKubernetesSecret(itemMap) {
			maskSecretFields(itemMap)
			maskAnnotationSecrets(itemMap)
			masked = true
		}
	}
	return masked
}

func isKubernetesSecret(resource map[string]any) bool {
	kind, _ := resource["kind"].(string)
	return kind == "Secret" || kind == "SecretList"
}

func isKubernetesList(resource map[string]any) bool {
	kind, ok := resource["kind"].(string)
	return ok && (kind == "List" || strings.HasSuffix(kind, "List"))
}

// maskSecretFields blanks the data/stringData values of a Secret, or of
// every item in a SecretList.
func maskSecretFields(resource map[string]any) {
	if kind, _ := resource["kind"].(string); kind == "SecretList" {
		items, _ := resource["items"].([]any)
		for _, item := range items {
			if itemMap, ok := item.(map[string]any); ok {
				maskSecretDataMaps(itemMap)
			}
		}
		return
	}
	maskSecretDataMaps(resource)
}

func maskSecretDataMaps(resource map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		dataMap, ok := resource[field].(map[string]any)
		if !ok {
			continue
		}
		for key := range dataMap {
			dataMap[key] = MaskedSecretValue
		}
	}
}

// maskAnnotationSecrets redacts Secrets embedded as JSON inside annotation
// values — kubectl's last-applied-configuration annotation carries a full
// copy of the Secret that would otherwise leak straight past the masking
// of the outer resource.
func maskAnnotationSecrets(resource map[string]any) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}

	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok || !strings.Contains(strVal, "Secret") {
			continue
		}

		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		if !isKubernetesSecret(embedded) {
			continue
		}

		maskSecretFields(embedded)
		if masked, err := json.Marshal(embedded); err == nil {
			annotations[key] = string(masked)
		}
	}
}
