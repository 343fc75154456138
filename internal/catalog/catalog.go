// Package catalog ships the built-in example workflows. Each preset builds a
// fresh engine so callers can execute, reset and discard them freely.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kingrea/stepflow/internal/workflow/builder"
	"github.com/kingrea/stepflow/internal/workflow/engine"
)

// ErrUnknownWorkflow is returned when a preset name is not registered.
var ErrUnknownWorkflow = errors.New("catalog: unknown workflow")

// Engine names given to the presets.
const (
	TitleFileFactPrice         = "File -> Fact -> Price"
	TitleComplex               = "Complex Multi-Step Workflow"
	TitleParallel              = "Parallel Processing Workflow"
	TitleCustom                = "Custom Execution Logic Workflow"
	TitleECommerce             = "E-Commerce Order Processing"
	TitleDeployment            = "Software Deployment Pipeline"
	TitleDataProcessing        = "Data Processing Pipeline"
	TitleDetailedFileFactPrice = "Detailed File -> Fact -> Price"
	TitleConfigurable          = "Configurable Workflow"
)

// Preset describes one built-in workflow.
type Preset struct {
	Name        string
	Title       string
	Description string
	build       func(opts ...engine.Option) (*engine.Engine, error)
}

// Build instantiates the preset.
func (p Preset) Build(opts ...engine.Option) (*engine.Engine, error) {
	return p.build(opts...)
}

// named puts the preset title ahead of opts so a caller's WithName wins.
func named(title string, opts []engine.Option) []engine.Option {
	return append([]engine.Option{engine.WithName(title)}, opts...)
}

var presets = map[string]Preset{}

func register(p Preset) {
	if _, exists := presets[p.Name]; exists {
		panic(fmt.Sprintf("catalog: preset %q registered twice", p.Name))
	}
	presets[p.Name] = p
}

func init() {
	register(Preset{Name: "file-fact-price", Title: TitleFileFactPrice, Description: "Three-step filing pipeline", build: FileFactPrice})
	register(Preset{Name: "complex", Title: TitleComplex, Description: "Setup, loading, processing and reporting stages", build: Complex})
	register(Preset{Name: "parallel", Title: TitleParallel, Description: "Three branches fanning out from START and merging", build: Parallel})
	register(Preset{Name: "custom", Title: TitleCustom, Description: "Download, extract and process with real actions", build: func(opts ...engine.Option) (*engine.Engine, error) {
		return Custom(DefaultCustomPause, opts...)
	}})
	register(Preset{Name: "ecommerce", Title: TitleECommerce, Description: "Cart validation through shipping and notifications", build: ECommerce})
	register(Preset{Name: "deployment", Title: TitleDeployment, Description: "Checkout, build, test and roll out to production", build: Deployment})
	register(Preset{Name: "data-processing", Title: TitleDataProcessing, Description: "Extract, clean, merge and load into the warehouse", build: DataProcessing})
	register(Preset{Name: "detailed-file-fact-price", Title: TitleDetailedFileFactPrice, Description: "The filing pipeline split into ten steps", build: DetailedFileFactPrice})
	register(Preset{Name: "configurable", Title: TitleConfigurable, Description: "Linear chain generated from step tuples", build: func(opts ...engine.Option) (*engine.Engine, error) {
		return Configurable(SampleConfiguration(), opts...)
	}})
}

// Names lists the registered presets alphabetically.
func Names() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Presets returns every preset ordered by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, name := range Names() {
		out = append(out, presets[name])
	}
	return out
}

// Lookup finds a preset by name, ignoring case.
func Lookup(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// New builds the named preset.
func New(name string, opts ...engine.Option) (*engine.Engine, error) {
	p, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return p.Build(opts...)
}

// FileFactPrice is the original filing pipeline.
func FileFactPrice(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleFileFactPrice, opts)...).
		Step("FILE", "File Processing", "Process and validate input files").
		Step("FACT", "Fact Processing", "Extract and validate facts from file", "FILE").
		Step("PRICE", "Price Calculation", "Calculate prices based on facts", "FILE", "FACT").
		Build()
}

func Complex(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleComplex, opts)...).
		Step("INIT", "Initialization", "Initialize system and load configuration").
		Step("AUTH", "Authentication", "Authenticate user and validate permissions").
		Step("LOAD_USER", "Load User Data", "Load user profile and preferences", "INIT", "AUTH").
		Step("LOAD_PRODUCT", "Load Product Data", "Load product catalog and inventory", "INIT").
		Step("VALIDATE", "Data Validation", "Validate loaded data for consistency", "LOAD_USER", "LOAD_PRODUCT").
		Step("CALCULATE", "Price Calculation", "Calculate prices and discounts", "VALIDATE").
		Step("APPLY_RULES", "Apply Business Rules", "Apply business rules and policies", "VALIDATE").
		Step("GENERATE_REPORT", "Generate Report", "Generate final report", "CALCULATE", "APPLY_RULES").
		Step("SEND_NOTIFICATION", "Send Notification", "Send notifications to stakeholders", "GENERATE_REPORT").
		Build()
}

func Parallel(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleParallel, opts)...).
		Step("START", "Start Process", "Initialize the parallel processing workflow").
		Step("BRANCH_A", "Process Branch A", "Process data stream A", "START").
		Step("BRANCH_B", "Process Branch B", "Process data stream B", "START").
		Step("BRANCH_C", "Process Branch C", "Process data stream C", "START").
		Step("MERGE", "Merge Results", "Combine results from all branches", "BRANCH_A", "BRANCH_B", "BRANCH_C").
		Step("FINALIZE", "Finalize", "Final processing and cleanup", "MERGE").
		Build()
}

func ECommerce(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleECommerce, opts)...).
		Step("VALIDATE_CART", "Validate Cart", "Validate cart items and availability").
		Step("CHECK_INVENTORY", "Check Inventory", "Verify product availability", "VALIDATE_CART").
		Step("VALIDATE_PAYMENT", "Validate Payment", "Validate payment method", "VALIDATE_CART").
		Step("CHARGE_PAYMENT", "Charge Payment", "Process payment transaction", "VALIDATE_PAYMENT", "CHECK_INVENTORY").
		Step("CREATE_ORDER", "Create Order", "Create order record", "CHARGE_PAYMENT").
		Step("RESERVE_INVENTORY", "Reserve Inventory", "Reserve products for order", "CREATE_ORDER").
		Step("SHIP_ORDER", "Ship Order", "Prepare and ship order", "RESERVE_INVENTORY").
		Step("SEND_CONFIRMATION", "Send Confirmation", "Send order confirmation email", "CREATE_ORDER").
		Step("SEND_TRACKING", "Send Tracking", "Send tracking information", "SHIP_ORDER").
		Build()
}

func Deployment(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleDeployment, opts)...).
		Step("CHECKOUT", "Checkout Code", "Checkout source code from repository").
		Step("COMPILE", "Compile", "Compile source code", "CHECKOUT").
		Step("UNIT_TESTS", "Unit Tests", "Run unit tests", "COMPILE").
		Step("STATIC_ANALYSIS", "Static Analysis", "Run code quality analysis", "COMPILE").
		Step("BUILD_PACKAGE", "Build Package", "Create deployment package", "UNIT_TESTS", "STATIC_ANALYSIS").
		Step("INTEGRATION_TESTS", "Integration Tests", "Run integration tests", "BUILD_PACKAGE").
		Step("DEPLOY_STAGING", "Deploy to Staging", "Deploy to staging environment", "INTEGRATION_TESTS").
		Step("SMOKE_TESTS", "Smoke Tests", "Run smoke tests on staging", "DEPLOY_STAGING").
		Step("DEPLOY_PRODUCTION", "Deploy to Production", "Deploy to production environment", "SMOKE_TESTS").
		Step("HEALTH_CHECK", "Health Check", "Verify production deployment", "DEPLOY_PRODUCTION").
		Step("NOTIFY_STAKEHOLDERS", "Notify Stakeholders", "Send deployment notifications", "HEALTH_CHECK").
		Build()
}

func DataProcessing(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleDataProcessing, opts)...).
		Step("EXTRACT_DATA", "Extract Data", "Extract data from source systems").
		Step("VALIDATE_SCHEMA", "Validate Schema", "Validate data schema and format", "EXTRACT_DATA").
		Step("CLEAN_CUSTOMER_DATA", "Clean Customer Data", "Clean and normalize customer data", "VALIDATE_SCHEMA").
		Step("CLEAN_PRODUCT_DATA", "Clean Product Data", "Clean and normalize product data", "VALIDATE_SCHEMA").
		Step("CLEAN_TRANSACTION_DATA", "Clean Transaction Data", "Clean and normalize transaction data", "VALIDATE_SCHEMA").
		Step("MERGE_DATA", "Merge Data", "Merge cleaned data sets", "CLEAN_CUSTOMER_DATA", "CLEAN_PRODUCT_DATA", "CLEAN_TRANSACTION_DATA").
		Step("APPLY_BUSINESS_RULES", "Apply Business Rules", "Apply business transformation rules", "MERGE_DATA").
		Step("QUALITY_CHECK", "Quality Check", "Perform data quality validation", "APPLY_BUSINESS_RULES").
		Step("LOAD_WAREHOUSE", "Load Data Warehouse", "Load data into warehouse", "QUALITY_CHECK").
		Step("UPDATE_INDEXES", "Update Indexes", "Update database indexes and statistics", "LOAD_WAREHOUSE").
		Step("GENERATE_REPORTS", "Generate Reports", "Generate summary reports", "UPDATE_INDEXES").
		Build()
}

// DetailedFileFactPrice splits each filing stage into validation, extraction
// and enrichment steps.
func DetailedFileFactPrice(opts ...engine.Option) (*engine.Engine, error) {
	return builder.New(named(TitleDetailedFileFactPrice, opts)...).
		Step("VALIDATE_FILE", "Validate File", "Check file exists and is readable").
		Step("PARSE_FILE", "Parse File", "Parse file content and structure", "VALIDATE_FILE").
		Step("VALIDATE_DATA", "Validate Data", "Validate data integrity and format", "PARSE_FILE").
		Step("EXTRACT_FACTS", "Extract Facts", "Extract business facts from data", "VALIDATE_DATA").
		Step("VALIDATE_FACTS", "Validate Facts", "Validate extracted facts", "EXTRACT_FACTS").
		Step("ENRICH_FACTS", "Enrich Facts", "Enrich facts with additional data", "VALIDATE_FACTS").
		Step("LOAD_PRICING_RULES", "Load Pricing Rules", "Load current pricing rules and rates", "ENRICH_FACTS").
		Step("CALCULATE_BASE_PRICE", "Calculate Base Price", "Calculate base prices", "LOAD_PRICING_RULES").
		Step("APPLY_DISCOUNTS", "Apply Discounts", "Apply applicable discounts", "CALCULATE_BASE_PRICE").
		Step("FINALIZE_PRICING", "Finalize Pricing", "Finalize and validate final prices", "APPLY_DISCOUNTS").
		Build()
}
