package models

type ProductKind string

const (
	ProductKindRawMaterial  ProductKind = "RawMaterial"
	ProductKindSemiFinished ProductKind = "SemiFinished"
	ProductKindFinished     ProductKind = "Finished"
	ProductKindMold         ProductKind = "Mold"
	ProductKindOutsourced   ProductKind = "Outsourced"
)

func (k ProductKind) Valid() bool {
	switch k {
	case ProductKindRawMaterial, ProductKindSemiFinished, ProductKindFinished,
		ProductKindMold, ProductKindOutsourced:
		return true
	}
	return false
}

type LotStatus string

const (
	LotStatusActive     LotStatus = "Active"
	LotStatusBlocked    LotStatus = "Blocked"
	LotStatusOutsourced LotStatus = "Outsourced"
	LotStatusScrap      LotStatus = "Scrap"
)

func (s LotStatus) Valid() bool {
	switch s {
	case LotStatusActive, LotStatusBlocked, LotStatusOutsourced, LotStatusScrap:
		return true
	}
	return false
}

type TransactionDirection string

const (
	TransactionDirectionIn     TransactionDirection = "IN"
	TransactionDirectionOut    TransactionDirection = "OUT"
	TransactionDirectionAdjust TransactionDirection = "ADJUST"
)

type TransactionReferenceType string

const (
	TransactionReferenceTypeWorkOrder        TransactionReferenceType = "WorkOrder"
	TransactionReferenceTypeSupplierReceipt  TransactionReferenceType = "SupplierReceipt"
	TransactionReferenceTypeManualAdjustment TransactionReferenceType = "ManualAdjustment"
	TransactionReferenceTypeProductionOutput TransactionReferenceType = "ProductionOutput"
)

type WorkOrderStatus string

const (
	WorkOrderStatusPlanned    WorkOrderStatus = "Planned"
	WorkOrderStatusInProgress WorkOrderStatus = "InProgress"
	WorkOrderStatusPaused     WorkOrderStatus = "Paused"
	WorkOrderStatusCompleted  WorkOrderStatus = "Completed"
	WorkOrderStatusCancelled  WorkOrderStatus = "Cancelled"
)

// IsTerminal reports whether a work order in this status is immutable.
func (s WorkOrderStatus) IsTerminal() bool {
	return s == WorkOrderStatusCompleted || s == WorkOrderStatusCancelled
}

// workOrderTransitions lists every legal state transition. CanTransition
// is the single authority consulted by the orchestrator.
var workOrderTransitions = map[WorkOrderStatus][]WorkOrderStatus{
	WorkOrderStatusPlanned:    {WorkOrderStatusInProgress, WorkOrderStatusCancelled},
	WorkOrderStatusInProgress: {WorkOrderStatusPaused, WorkOrderStatusCompleted, WorkOrderStatusCancelled},
	WorkOrderStatusPaused:     {WorkOrderStatusInProgress, WorkOrderStatusCancelled},
}

func (s WorkOrderStatus) CanTransition(to WorkOrderStatus) bool {
	for _, next := range workOrderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type OperationAction string

const (
	OperationActionStart            OperationAction = "Start"
	OperationActionPause            OperationAction = "Pause"
	OperationActionResume           OperationAction = "Resume"
	OperationActionProductionReport OperationAction = "ProductionReport"
	OperationActionComplete         OperationAction = "Complete"
	OperationActionCancel           OperationAction = "Cancel"
)

type OperationType string

const (
	OperationTypeMolding   OperationType = "Molding"
	OperationTypeMachining OperationType = "Machining"
	OperationTypeAssembly  OperationType = "Assembly"
	OperationTypeFinishing OperationType = "Finishing"
	OperationTypePackaging OperationType = "Packaging"
	OperationTypeOutsource OperationType = "Outsource"
)
