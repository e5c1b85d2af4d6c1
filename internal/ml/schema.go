package ml

// Instruction is the fixed prompt sent with every photo. It is part of the
// contract with the model together with NutritionSchema.
const Instruction = "Определи еду на этом изображении. Оцени размер порции и предоставь примерную оценку пищевой ценности для порции, показанной на фото. Если на изображении нет еды, укажи это в 'foodName' и установи все значения питательных веществ на 0. Ответ должен быть только в формате JSON."

// FieldType is the JSON type of a schema field
type FieldType string

const (
	FieldString FieldType = "STRING"
	FieldNumber FieldType = "NUMBER"
)

// SchemaField describes one property of the response object
type SchemaField struct {
	Name        string
	Type        FieldType
	Description string
}

// ResponseSchema is a backend-neutral object schema. Each Model converts it
// into its SDK's schema type.
type ResponseSchema struct {
	Fields   []SchemaField
	Required []string
}

// NutritionSchema is the declared shape of a NutritionEstimate reply
var NutritionSchema = &ResponseSchema{
	Fields: []SchemaField{
		{Name: "foodName", Type: FieldString, Description: "Название блюда, определенного на изображении. Если еда не найдена, укажите 'Еда не найдена'."},
		{Name: "servingSize", Type: FieldString, Description: "Примерный вес порции, показанной на изображении, например 'около 250г'."},
		{Name: "calories", Type: FieldNumber, Description: "Примерное количество калорий для порции на фото."},
		{Name: "protein", Type: FieldNumber, Description: "Примерное количество белка в граммах для порции на фото."},
		{Name: "fat", Type: FieldNumber, Description: "Примерное количество жиров в граммах для порции на фото."},
		{Name: "carbohydrates", Type: FieldNumber, Description: "Примерное количество углеводов в граммах для порции на фото."},
	},
	Required: []string{"foodName", "servingSize", "calories", "protein", "fat", "carbohydrates"},
}

// FieldNames returns the property names in declaration order
func (s *ResponseSchema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	return names
}
