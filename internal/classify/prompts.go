package classify

// Stage identifies one of the three classification passes.
type Stage string

const (
	StagePIIDetect  Stage = "pii_detection"
	StagePIIReflect Stage = "pii_reflection"
	StageNonPII     Stage = "non_pii_detection"
)

// --- PII Detection Prompts ---

const PIIDetectSystemPrompt = `You are a data protection analyst. Your task is to decide whether a tabular column contains personally identifiable information (PII) and, if so, which entity type it holds. You must output your answer as a single valid JSON object.`

const PIIDetectUserPrompt = `You are given the name of one column from a tabular dataset and a few sample values drawn from it.

Decide which PII entity type the column holds. The permitted entity types are:
person_name, email_address, phone_number, address, city, country, date, product_name, price, unknown

Rules:
1. If the column does not hold PII, answer with the entity type "None".
2. Judge by both the column name and the sample values; sample values win when they disagree.
3. Answer ONLY with a JSON object of the form {"entity_type": "<value>"}. Do not add any other text.

Column name: %s
Sample values: %s`

// --- PII Reflection Prompts ---

const PIIReflectSystemPrompt = `You are a data protection analyst. Your task is to grade how sensitive a detected PII column is in the context of the whole table. You must output your answer as a single valid JSON object.`

const PIIReflectUserPrompt = `A column in the table below was detected as PII.

Column name: %s
Detected entity type: %s

Table context:
%s

Grade the sensitivity of this column, considering what the surrounding columns could reveal when combined with it. The permitted levels are:
NON_SENSITIVE, MODERATE_SENSITIVE, HIGH_SENSITIVE, SEVERE_SENSITIVE

Answer ONLY with a JSON object of the form {"sensitivity_level": "<value>"}. Do not add any other text.`

// --- Non-PII Classification Prompts ---

const NonPIISystemPrompt = `You are a data protection analyst. Your task is to grade the table-level sensitivity of a dataset beyond any individual PII columns, applying the provided information sensitivity policy. You must output your answer as a single valid JSON object.`

const NonPIIUserPrompt = `Grade the overall non-PII sensitivity of the table described below, following the information sensitivity policy.

Information sensitivity policy:
%s

Table context:
%s

The permitted levels are: LOW_SENSITIVE, MODERATE_SENSITIVE, HIGH_SENSITIVE

Answer ONLY with a JSON object of the form {"sensitivity_level": "<value>", "explanation": "<one short paragraph>"}. Do not add any other text.`

// DefaultISP is the default information sensitivity policy applied by the
// non-PII stage when no dataset-specific policy is configured.
const DefaultISP = `- Data that could expose the location, movement, or composition of vulnerable groups is HIGH_SENSITIVE.
- Operational data about aid delivery, supply routes, or facility capacity is MODERATE_SENSITIVE.
- Aggregated statistics with no re-identification potential are LOW_SENSITIVE.`
